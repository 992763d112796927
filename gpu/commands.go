package gpu

import (
	"fmt"
	"math"

	"github.com/sarchlab/pspsim/gpu/texture"
)

// Command is a display list opcode, the top byte of a command word.
type Command uint8

// Display list opcodes.
const (
	CmdNOP      Command = 0x00
	CmdVADDR    Command = 0x01
	CmdIADDR    Command = 0x02
	CmdPRIM     Command = 0x04
	CmdBEZIER   Command = 0x05
	CmdSPLINE   Command = 0x06
	CmdJUMP     Command = 0x08
	CmdBJUMP    Command = 0x09
	CmdCALL     Command = 0x0A
	CmdRET      Command = 0x0B
	CmdEND      Command = 0x0C
	CmdSIGNAL   Command = 0x0E
	CmdFINISH   Command = 0x0F
	CmdBASE     Command = 0x10
	CmdVTYPE    Command = 0x12
	CmdOFFSET   Command = 0x13
	CmdORIGIN   Command = 0x14
	CmdREGION1  Command = 0x15
	CmdREGION2  Command = 0x16
	CmdLTE      Command = 0x17
	CmdCLE      Command = 0x1C
	CmdBCE      Command = 0x1D
	CmdTME      Command = 0x1E
	CmdFGE      Command = 0x1F
	CmdDTE      Command = 0x20
	CmdABE      Command = 0x21
	CmdATE      Command = 0x22
	CmdZTE      Command = 0x23
	CmdSTE      Command = 0x24
	CmdCTE      Command = 0x27
	CmdWMS      Command = 0x3A
	CmdWORLD    Command = 0x3B
	CmdVMS      Command = 0x3C
	CmdVIEW     Command = 0x3D
	CmdPMS      Command = 0x3E
	CmdPROJ     Command = 0x3F
	CmdTMS      Command = 0x40
	CmdTMATRIX  Command = 0x41
	CmdXSCALE   Command = 0x42
	CmdYSCALE   Command = 0x43
	CmdZSCALE   Command = 0x44
	CmdXPOS     Command = 0x45
	CmdYPOS     Command = 0x46
	CmdZPOS     Command = 0x47
	CmdUSCALE   Command = 0x48
	CmdVSCALE   Command = 0x49
	CmdUOFFSET  Command = 0x4A
	CmdVOFFSET  Command = 0x4B
	CmdOFFSETX  Command = 0x4C
	CmdOFFSETY  Command = 0x4D
	CmdSHADE    Command = 0x50
	CmdCMAT     Command = 0x53
	CmdEMC      Command = 0x54
	CmdAMC      Command = 0x55
	CmdDMC      Command = 0x56
	CmdSMC      Command = 0x57
	CmdAMA      Command = 0x58
	CmdALC      Command = 0x5C
	CmdALA      Command = 0x5D
	CmdFBP      Command = 0x9C
	CmdFBW      Command = 0x9D
	CmdZBP      Command = 0x9E
	CmdZBW      Command = 0x9F
	CmdTBP0     Command = 0xA0
	CmdTBW0     Command = 0xA8
	CmdCBP      Command = 0xB0
	CmdCBPH     Command = 0xB1
	CmdTRXKICK  Command = 0xB2
	CmdTSIZE0   Command = 0xB8
	CmdTMODE    Command = 0xC2
	CmdTPSM     Command = 0xC3
	CmdCLOAD    Command = 0xC4
	CmdCMODE    Command = 0xC5
	CmdTFLT     Command = 0xC6
	CmdTWRAP    Command = 0xC7
	CmdTFUNC    Command = 0xC9
	CmdTEC      Command = 0xCA
	CmdTFLUSH   Command = 0xCB
	CmdTSYNC    Command = 0xCC
	CmdPSM      Command = 0xD2
	CmdCLEAR    Command = 0xD3
	CmdSCISSOR1 Command = 0xD4
	CmdSCISSOR2 Command = 0xD5
	CmdNEARZ    Command = 0xD6
	CmdFARZ     Command = 0xD7
	CmdCTST     Command = 0xD8
	CmdCREF     Command = 0xD9
	CmdCMSK     Command = 0xDA
	CmdATST     Command = 0xDB
	CmdZTST     Command = 0xDE
	CmdALPHA    Command = 0xDF
	CmdSFIX     Command = 0xE0
	CmdDFIX     Command = 0xE1
	CmdDTH0     Command = 0xE2
	CmdZMSK     Command = 0xE7
	CmdPMSKC    Command = 0xE8
	CmdPMSKA    Command = 0xE9
)

var commandNames = map[Command]string{
	CmdNOP: "NOP", CmdVADDR: "VADDR", CmdIADDR: "IADDR", CmdPRIM: "PRIM",
	CmdBEZIER: "BEZIER", CmdSPLINE: "SPLINE", CmdJUMP: "JUMP", CmdBJUMP: "BJUMP",
	CmdCALL: "CALL", CmdRET: "RET", CmdEND: "END", CmdSIGNAL: "SIGNAL",
	CmdFINISH: "FINISH", CmdBASE: "BASE", CmdVTYPE: "VTYPE", CmdOFFSET: "OFFSET",
	CmdORIGIN: "ORIGIN", CmdTME: "TME", CmdTFLUSH: "TFLUSH", CmdTSYNC: "TSYNC",
	CmdCLEAR: "CLEAR", CmdTRXKICK: "TRXKICK", CmdTPSM: "TPSM", CmdTMODE: "TMODE",
	CmdCLOAD: "CLOAD", CmdCMODE: "CMODE", CmdFBP: "FBP", CmdFBW: "FBW",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD_%02X", uint8(c))
}

// Word assembles a command word.
func Word(c Command, params uint32) uint32 {
	return uint32(c)<<24 | params&0xFFFFFF
}

type handler func(p *Processor, l *List, params uint32) error

var (
	handlers      [256]handler
	unimplemented [256]bool
)

func float24(params uint32) float32 {
	return math.Float32frombits(params << 8)
}

func flag(params uint32) bool {
	return params&1 != 0
}

func stateOnly(fn func(s *State, params uint32)) handler {
	return func(_ *Processor, l *List, params uint32) error {
		fn(l.State, params)
		return nil
	}
}

func init() {
	flow := map[Command]handler{
		CmdNOP: func(*Processor, *List, uint32) error { return nil },
		CmdJUMP: func(_ *Processor, l *List, params uint32) error {
			l.Current = l.address(params) &^ 3
			return nil
		},
		CmdCALL: func(_ *Processor, l *List, params uint32) error {
			if len(l.calls) >= maxCallDepth {
				return ErrCallStackOverflow
			}
			l.calls = append(l.calls, frame{ret: l.Current, offset: l.offset})
			l.Current = l.address(params) &^ 3
			return nil
		},
		CmdRET: func(p *Processor, l *List, _ uint32) error {
			if len(l.calls) == 0 {
				p.log.Info("display list RET with empty call stack", "list", l.ID)
				return nil
			}
			f := l.calls[len(l.calls)-1]
			l.calls = l.calls[:len(l.calls)-1]
			l.Current, l.offset = f.ret, f.offset
			return nil
		},
		CmdEND: func(_ *Processor, l *List, _ uint32) error {
			l.Status = StatusCompleted
			return nil
		},
		CmdSIGNAL: func(p *Processor, l *List, params uint32) error {
			l.Signal = params
			if p.onSignal != nil {
				p.onSignal(l.ID, params)
			}
			return nil
		},
		CmdFINISH: func(p *Processor, l *List, params uint32) error {
			l.Finish = params
			if p.onFinish != nil {
				p.onFinish(l.ID, params)
			}
			return nil
		},
		CmdBASE: func(_ *Processor, l *List, params uint32) error {
			l.base = params << 8 & 0xFF000000
			return nil
		},
		CmdOFFSET: func(_ *Processor, l *List, params uint32) error {
			l.offset = params << 8
			return nil
		},
		CmdORIGIN: func(_ *Processor, l *List, _ uint32) error {
			l.offset = l.Current - 4
			return nil
		},
		CmdVADDR: func(_ *Processor, l *List, params uint32) error {
			l.State.Vertex.Address = l.address(params)
			return nil
		},
		CmdIADDR: func(_ *Processor, l *List, params uint32) error {
			l.State.Vertex.IndexAddress = l.address(params)
			return nil
		},
		CmdPRIM:   (*Processor).prim,
		CmdTFLUSH: func(p *Processor, _ *List, _ uint32) error { p.textures.RecheckAll(); return nil },
		CmdTSYNC:  func(*Processor, *List, uint32) error { return nil },
	}
	for c, h := range flow {
		handlers[c] = h
	}

	states := map[Command]func(s *State, params uint32){
		CmdVTYPE: func(s *State, v uint32) { s.Vertex.Type = v },
		CmdSHADE: func(s *State, v uint32) { s.Vertex.Shading = uint8(v & 1) },

		CmdREGION1: func(s *State, v uint32) { s.Region.X1, s.Region.Y1 = v&0x3FF, v>>10&0x3FF },
		CmdREGION2: func(s *State, v uint32) { s.Region.X2, s.Region.Y2 = v&0x3FF, v>>10&0x3FF },
		CmdSCISSOR1: func(s *State, v uint32) { s.Scissor.X1, s.Scissor.Y1 = v&0x3FF, v>>10&0x3FF },
		CmdSCISSOR2: func(s *State, v uint32) { s.Scissor.X2, s.Scissor.Y2 = v&0x3FF, v>>10&0x3FF },

		CmdLTE: func(s *State, v uint32) { s.Lighting.Enabled = flag(v) },
		CmdCLE: func(s *State, v uint32) { s.Clipping = flag(v) },
		CmdBCE: func(s *State, v uint32) { s.Culling = flag(v) },
		CmdTME: func(s *State, v uint32) { s.Texture.Enabled = flag(v) },
		CmdFGE: func(s *State, v uint32) { s.Fog = flag(v) },
		CmdDTE: func(s *State, v uint32) { s.Dithering = flag(v) },
		CmdABE: func(s *State, v uint32) { s.Blend.Enabled = flag(v) },
		CmdATE: func(s *State, v uint32) { s.AlphaTest.Enabled = flag(v) },
		CmdZTE: func(s *State, v uint32) { s.DepthTest.Enabled = flag(v) },
		CmdSTE: func(s *State, v uint32) { s.Stencil = flag(v) },
		CmdCTE: func(s *State, v uint32) { s.ColorTest.Enabled = flag(v) },

		CmdWMS:     func(s *State, v uint32) { s.World.Reset(int(v)) },
		CmdWORLD:   func(s *State, v uint32) { s.World.Write(float24(v)) },
		CmdVMS:     func(s *State, v uint32) { s.View.Reset(int(v)) },
		CmdVIEW:    func(s *State, v uint32) { s.View.Write(float24(v)) },
		CmdPMS:     func(s *State, v uint32) { s.Projection.Reset(int(v)) },
		CmdPROJ:    func(s *State, v uint32) { s.Projection.Write(float24(v)) },
		CmdTMS:     func(s *State, v uint32) { s.TexMatrix.Reset(int(v)) },
		CmdTMATRIX: func(s *State, v uint32) { s.TexMatrix.Write(float24(v)) },

		CmdXSCALE:  func(s *State, v uint32) { s.Viewport.ScaleX = float24(v) },
		CmdYSCALE:  func(s *State, v uint32) { s.Viewport.ScaleY = float24(v) },
		CmdZSCALE:  func(s *State, v uint32) { s.Viewport.ScaleZ = float24(v) },
		CmdXPOS:    func(s *State, v uint32) { s.Viewport.PosX = float24(v) },
		CmdYPOS:    func(s *State, v uint32) { s.Viewport.PosY = float24(v) },
		CmdZPOS:    func(s *State, v uint32) { s.Viewport.PosZ = float24(v) },
		CmdOFFSETX: func(s *State, v uint32) { s.Viewport.OffsetX = v >> 4 },
		CmdOFFSETY: func(s *State, v uint32) { s.Viewport.OffsetY = v >> 4 },

		CmdUSCALE:  func(s *State, v uint32) { s.Texture.ScaleU = float24(v) },
		CmdVSCALE:  func(s *State, v uint32) { s.Texture.ScaleV = float24(v) },
		CmdUOFFSET: func(s *State, v uint32) { s.Texture.OffsetU = float24(v) },
		CmdVOFFSET: func(s *State, v uint32) { s.Texture.OffsetV = float24(v) },

		CmdCMAT: func(s *State, v uint32) { s.Lighting.MaterialComponents = uint8(v) },
		CmdEMC:  func(s *State, v uint32) { s.Lighting.Emissive = v },
		CmdAMC:  func(s *State, v uint32) { s.Lighting.AmbientModel = v },
		CmdDMC:  func(s *State, v uint32) { s.Lighting.Diffuse = v },
		CmdSMC:  func(s *State, v uint32) { s.Lighting.Specular = v },
		CmdAMA:  func(s *State, v uint32) { s.Lighting.AmbientAlpha = uint8(v) },
		CmdALC:  func(s *State, v uint32) { s.Lighting.AmbientLight = v },
		CmdALA:  func(s *State, v uint32) { s.Lighting.AmbientLightAlpha = uint8(v) },

		CmdFBP: func(s *State, v uint32) {
			s.Framebuffer.Address = s.Framebuffer.Address&0xFF000000 | v
		},
		CmdFBW: func(s *State, v uint32) {
			s.Framebuffer.Width = int(v & 0xFFFF)
			s.Framebuffer.Address = s.Framebuffer.Address&0x00FFFFFF | v<<8&0xFF000000
		},
		CmdZBP: func(s *State, v uint32) {
			s.DepthBuffer.Address = s.DepthBuffer.Address&0xFF000000 | v
		},
		CmdZBW: func(s *State, v uint32) {
			s.DepthBuffer.Width = int(v & 0xFFFF)
			s.DepthBuffer.Address = s.DepthBuffer.Address&0x00FFFFFF | v<<8&0xFF000000
		},
		CmdPSM: func(s *State, v uint32) { s.Framebuffer.Format = texture.Format(v & 3) },

		CmdCBP: func(s *State, v uint32) {
			s.Clut.Address = s.Clut.Address&0xFF000000 | v
		},
		CmdCBPH: func(s *State, v uint32) {
			s.Clut.Address = s.Clut.Address&0x00FFFFFF | v<<8&0xFF000000
		},
		CmdCLOAD: func(s *State, v uint32) { s.Clut.Blocks = int(v & 0x3F) },
		CmdCMODE: func(s *State, v uint32) {
			s.Clut.Format = texture.Format(v & 3)
			s.Clut.Shift = v >> 2 & 0x1F
			s.Clut.Mask = v >> 8 & 0xFF
			s.Clut.Start = (v >> 16 & 0x1F) * 16
		},

		CmdTMODE: func(s *State, v uint32) {
			s.Texture.Swizzled = flag(v)
			s.Texture.ShareClut = v>>8&1 != 0
			s.Texture.MaxLevel = int(v >> 16 & 7)
		},
		CmdTPSM: func(s *State, v uint32) { s.Texture.Format = texture.Format(v & 0xF) },
		CmdTFLT: func(s *State, v uint32) { s.Texture.MinFilter, s.Texture.MagFilter = uint8(v), uint8(v>>8) },
		CmdTWRAP: func(s *State, v uint32) { s.Texture.WrapU, s.Texture.WrapV = uint8(v), uint8(v>>8) },
		CmdTFUNC: func(s *State, v uint32) {
			s.Texture.Effect = uint8(v & 7)
			s.Texture.ColorComponent = uint8(v >> 8 & 1)
			s.Texture.Fragment2X = v>>16&1 != 0
		},
		CmdTEC: func(s *State, v uint32) { s.Texture.EnvColor = v },

		CmdCLEAR: func(s *State, v uint32) {
			s.Clear.Enabled = flag(v)
			s.Clear.Flags = uint8(v >> 8)
		},
		CmdNEARZ: func(s *State, v uint32) { s.DepthTest.Near = v & 0xFFFF },
		CmdFARZ:  func(s *State, v uint32) { s.DepthTest.Far = v & 0xFFFF },
		CmdCTST:  func(s *State, v uint32) { s.ColorTest.Func = texture.ColorTestFunc(v & 3) },
		CmdCREF:  func(s *State, v uint32) { s.ColorTest.Ref = v },
		CmdCMSK:  func(s *State, v uint32) { s.ColorTest.Mask = v },
		CmdATST: func(s *State, v uint32) {
			s.AlphaTest.Func = uint8(v & 7)
			s.AlphaTest.Ref = uint8(v >> 8)
			s.AlphaTest.Mask = uint8(v >> 16)
		},
		CmdZTST: func(s *State, v uint32) { s.DepthTest.Func = uint8(v & 7) },
		CmdALPHA: func(s *State, v uint32) {
			s.Blend.Src = uint8(v & 0xF)
			s.Blend.Dst = uint8(v >> 4 & 0xF)
			s.Blend.Equation = uint8(v >> 8 & 7)
		},
		CmdSFIX:  func(s *State, v uint32) { s.Blend.FixSrc = v },
		CmdDFIX:  func(s *State, v uint32) { s.Blend.FixDst = v },
		CmdZMSK:  func(s *State, v uint32) { s.DepthTest.MaskWrite = v&0xFFFF == 0 },
		CmdPMSKC: func(s *State, v uint32) { s.PixelMask = v },
		CmdPMSKA: func(s *State, v uint32) { s.AlphaMask = uint8(v) },
	}
	for c, fn := range states {
		handlers[c] = stateOnly(fn)
	}

	for i := Command(0); i < 8; i++ {
		level := int(i)
		handlers[CmdTBP0+i] = stateOnly(func(s *State, v uint32) {
			m := &s.Texture.Mipmaps[level]
			m.Address = m.Address&0xFF000000 | v
		})
		handlers[CmdTBW0+i] = stateOnly(func(s *State, v uint32) {
			m := &s.Texture.Mipmaps[level]
			m.BufferWidth = int(v & 0xFFFF)
			m.Address = m.Address&0x00FFFFFF | v<<8&0xFF000000
		})
		handlers[CmdTSIZE0+i] = stateOnly(func(s *State, v uint32) {
			m := &s.Texture.Mipmaps[level]
			m.Width = 1 << (v & 0xF)
			m.Height = 1 << (v >> 8 & 0xF)
		})
	}
	for i := Command(0); i < 4; i++ {
		row := int(i)
		handlers[CmdDTH0+i] = stateOnly(func(s *State, v uint32) { s.DitherRows[row] = v })
	}

	for _, c := range []Command{CmdBEZIER, CmdSPLINE, CmdBJUMP, CmdTRXKICK} {
		unimplemented[c] = true
		handlers[c] = handlers[CmdNOP]
	}
}

func (p *Processor) prim(l *List, params uint32) error {
	s := l.State
	d := Draw{
		Type:          PrimitiveType(params >> 16 & 7),
		Count:         int(params & 0xFFFF),
		VertexAddress: s.Vertex.Address,
		IndexAddress:  s.Vertex.IndexAddress,
		VertexType:    s.Vertex.Type,
		State:         s,
	}
	if s.Texture.Enabled && !s.Clear.Enabled {
		d.Textured = true
		d.Texture = p.textures.Get(s.TextureParams())
	}
	return p.renderer.Draw(&d)
}

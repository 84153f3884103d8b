package host

import (
	"errors"
	"fmt"
	"image/color"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"zound-engine/internal/engine"
	"zound-engine/internal/input"
)

// MaxSlots is how many definitions get a digit key
const MaxSlots = 9

// Game drives the engine from the ebiten loop and draws its diagnostics
type Game struct {
	engine *engine.Engine
	input  *input.Manager
	slots  []string

	screenWidth  int
	screenHeight int
	fade         time.Duration

	paused      bool
	status      string
	initialized bool
}

// NewGame creates a new host. The first nine names are bound to keys 1 to 9.
func NewGame(e *engine.Engine, names []string, width, height int) *Game {
	if len(names) > MaxSlots {
		names = names[:MaxSlots]
	}
	return &Game{
		engine:       e,
		slots:        names,
		screenWidth:  width,
		screenHeight: height,
		fade:         engine.DefinitionFade,
	}
}

// Init initializes the input manager
func (g *Game) Init() error {
	if g.engine == nil {
		return errors.New("host needs an engine")
	}
	g.input = input.NewManager()
	g.initialized = true
	log.Info("Host initialized", "slots", len(g.slots))
	return nil
}

// Update handles input and advances the engine by one frame
func (g *Game) Update() error {
	if !g.initialized {
		return nil
	}

	g.input.Update()
	for _, ev := range g.input.Events() {
		if err := g.handle(ev); err != nil {
			return err
		}
	}

	g.engine.Tick(time.Second / time.Duration(ebiten.TPS()))
	return nil
}

func (g *Game) handle(ev input.Event) error {
	switch ev.Action {
	case input.ActionTrigger:
		if ev.Slot >= len(g.slots) {
			return nil
		}
		name := g.slots[ev.Slot]
		if _, err := g.engine.Play(name); err != nil {
			g.status = fmt.Sprintf("%s: %v", name, err)
		} else {
			g.status = "played " + name
		}
	case input.ActionTogglePause:
		if g.paused {
			g.status = fmt.Sprintf("resumed %d", g.engine.UnpauseAll(g.fade))
		} else {
			g.status = fmt.Sprintf("paused %d", g.engine.PauseAll(g.fade))
		}
		g.paused = !g.paused
	case input.ActionKillAll:
		g.status = fmt.Sprintf("stopped %d", g.engine.StopAll(g.fade))
		g.paused = false
	case input.ActionCleanup:
		g.status = fmt.Sprintf("cleaned %d voices", g.engine.CleanupVoices())
	case input.ActionQuit:
		return ebiten.Termination
	}
	return nil
}

// Draw renders the key bindings and the diagnostics overlay
func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{0, 0, 0, 255})
	if !g.initialized {
		ebitenutil.DebugPrint(screen, "Initializing...")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FPS: %.2f\n", ebiten.ActualFPS())
	for i, name := range g.slots {
		fmt.Fprintf(&b, "[%d] %s  ", i+1, name)
	}
	b.WriteString("\n[P] pause  [K] stop all  [C] cleanup  [Esc] quit\n")
	if g.status != "" {
		b.WriteString(g.status)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(g.engine.Diagnostics().String())
	ebitenutil.DebugPrint(screen, b.String())
}

// Layout returns the game's screen size
func (g *Game) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	return g.screenWidth, g.screenHeight
}

// Run opens the window and blocks until it closes
func (g *Game) Run() error {
	if err := g.Init(); err != nil {
		return err
	}

	ebiten.SetWindowSize(g.screenWidth, g.screenHeight)
	ebiten.SetWindowTitle("zound")
	ebiten.SetWindowResizable(false)

	if err := ebiten.RunGame(g); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return nil
}

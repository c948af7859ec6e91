package feedback

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultChannels = 25
	DefaultInterval = 100 * time.Millisecond
	RestingLevel    = 0.3
)

// Levels are drawn uniformly from [min, min+span).
const (
	captureMin   = 0.3
	captureSpan  = 0.7
	playbackMin  = 0.2
	playbackSpan = 0.5
)

// Generator produces the animated intensity bars shown while capturing or playing back.
// The levels are decorative, they carry no information about the actual audio.
//
// Invariant: a generatorRoutine runs iff capturing || playingBack, and every activation gets a fresh random source.
// Invariant: while idle every channel is exactly RestingLevel.
type Generator struct {
	channels int
	interval time.Duration

	mutex       sync.Mutex // Protects everything below
	capturing   bool
	playingBack bool
	levels      []float64
	rng         *rand.Rand
	stop        chan struct{}
	routineDone chan struct{}
	subscribers []chan []float64
}

func NewGenerator(channels int, interval time.Duration) *Generator {
	if channels <= 0 {
		channels = DefaultChannels
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	g := &Generator{
		channels: channels,
		interval: interval,
		levels:   make([]float64, channels),
	}
	g.restLocked()
	return g
}

func (g *Generator) SetCapturing(capturing bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.capturing = capturing
	g.reconcileLocked()
}

func (g *Generator) SetPlayingBack(playingBack bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.playingBack = playingBack
	g.reconcileLocked()
}

// Active reports whether the bars are animating.
func (g *Generator) Active() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.stop != nil
}

// Levels returns a copy of the current per-channel intensities.
func (g *Generator) Levels() []float64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return append([]float64(nil), g.levels...)
}

// Subscribe delivers a copy of the levels after every change. Slow consumers miss updates, they are never waited for.
func (g *Generator) Subscribe() <-chan []float64 {
	ch := make(chan []float64, 1)
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.subscribers = append(g.subscribers, ch)
	return ch
}

func (g *Generator) Unsubscribe(ch <-chan []float64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	for i, sub := range g.subscribers {
		if sub == ch {
			g.subscribers = append(g.subscribers[:i], g.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Tick draws one new set of levels, a no-op while idle. The routine calls it every interval.
func (g *Generator) Tick() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.tickLocked()
}

// Close stops the routine and drops all subscribers.
func (g *Generator) Close() {
	g.mutex.Lock()
	g.capturing = false
	g.playingBack = false
	g.reconcileLocked()
	routineDone := g.routineDone
	for _, sub := range g.subscribers {
		close(sub)
	}
	g.subscribers = nil
	g.mutex.Unlock()

	if routineDone != nil {
		<-routineDone
	}
}

func (g *Generator) reconcileLocked() {
	active := g.capturing || g.playingBack
	switch {
	case active && g.stop == nil:
		// New activation, new randomness: nothing carries over from the previous one.
		g.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
		g.stop = make(chan struct{})
		g.routineDone = make(chan struct{})
		go g.generatorRoutine(g.stop, g.routineDone)
		log.Debug().Bool("capturing", g.capturing).Bool("playing_back", g.playingBack).Msg("feedback generator activated")
	case !active && g.stop != nil:
		close(g.stop)
		g.stop = nil
		g.rng = nil
		g.restLocked()
		log.Debug().Msg("feedback generator back to rest")
	}
}

func (g *Generator) generatorRoutine(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mutex.Lock()
			// A quick off/on may have replaced us already.
			if g.stop == stop {
				g.tickLocked()
			}
			g.mutex.Unlock()
		}
	}
}

func (g *Generator) tickLocked() {
	if g.rng == nil {
		return
	}
	low, span := playbackMin, playbackSpan
	if g.capturing {
		low, span = captureMin, captureSpan
	}
	for i := range g.levels {
		g.levels[i] = low + g.rng.Float64()*span
	}
	g.publishLocked()
}

func (g *Generator) restLocked() {
	for i := range g.levels {
		g.levels[i] = RestingLevel
	}
	g.publishLocked()
}

func (g *Generator) publishLocked() {
	for _, sub := range g.subscribers {
		snapshot := append([]float64(nil), g.levels...)
		select {
		case sub <- snapshot:
		default:
			// Replace the stale snapshot with the fresh one.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- snapshot:
			default:
			}
		}
	}
}

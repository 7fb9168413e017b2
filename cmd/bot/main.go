// bot is a headless relay client. it joins a match, wanders around, shoots
// every now and then and prints what it knows about the other players.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/relayclient"
	"github.com/blukai/fragrelay/internal/roster"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
	"github.com/phuslu/log"
)

type Config struct {
	URL         string        `envconfig:"URL" required:"true" default:"ws://localhost:5002/ws"`
	TickHz      int           `envconfig:"TICK_HZ" default:"45"`
	RosterEvery time.Duration `envconfig:"ROSTER_EVERY" default:"5s"`
	Debug       bool          `envconfig:"DEBUG" default:"false"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("fragbot", config); err != nil {
		return nil, err
	}
	if config.TickHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %d", config.TickHz)
	}
	return config, nil
}

func configureLogger(debug bool) *log.Logger {
	logger := log.DefaultLogger

	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	if debug {
		logger.Level = log.DebugLevel
	} else {
		logger.Level = log.InfoLevel
	}

	return &logger
}

// walker moves the bot along a circle around a random center.
type walker struct {
	rng            *rand.Rand
	cx, cz, radius float64
	phase          float64
	health         float32
}

func newWalker(rng *rand.Rand) *walker {
	return &walker{
		rng:    rng,
		cx:     rng.Float64()*40 - 20,
		cz:     rng.Float64()*40 - 20,
		radius: 2 + rng.Float64()*8,
		health: 1,
	}
}

func (w *walker) step(dt float64) (x, y, z, angle float32) {
	// idle for a bit now and then so movement throttling has something to do
	if w.rng.Intn(90) != 0 {
		w.phase += dt * 0.5
	}
	x = float32(w.cx + math.Cos(w.phase)*w.radius)
	z = float32(w.cz + math.Sin(w.phase)*w.radius)
	angle = float32(math.Mod(w.phase+math.Pi/2, 2*math.Pi))
	return x, 1, z, angle
}

func printRoster(r *roster.Roster) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"id", "x", "y", "z", "angle", "health", "sounds", "seen"})
	table.SetBorder(false)

	for _, p := range r.Players() {
		health := "?"
		if p.Health >= 0 {
			health = strconv.FormatFloat(float64(p.Health), 'f', 2, 32)
		}
		table.Append([]string{
			strconv.Itoa(int(p.ID)),
			strconv.FormatFloat(float64(p.X), 'f', 2, 32),
			strconv.FormatFloat(float64(p.Y), 'f', 2, 32),
			strconv.FormatFloat(float64(p.Z), 'f', 2, 32),
			strconv.FormatFloat(float64(p.Angle), 'f', 2, 32),
			health,
			strconv.Itoa(p.Sounds),
			time.Since(p.UpdatedAt).Truncate(time.Millisecond).String(),
		})
	}
	table.SetFooter([]string{"", "", "", "", "", "", "shots", strconv.Itoa(r.Shots())})
	table.Render()
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.Debug)
	protocol.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := relayclient.NewRelayClient(config.URL, relayclient.DialWebsocket, logger)
	defer client.Close()

	players := roster.New()
	players.Attach(client)
	client.On(protocol.TransferString, func(pkt protocol.Packet) {
		logger.Info().Msgf("relay says %q", protocol.TransferStringValues(pkt))
	})

	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	err = <-client.Open(openCtx)
	openCancel()
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}
	logger.Info().Msgf("connected to %s", config.URL)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	w := newWalker(rng)
	var throttle roster.MovementThrottle

	tickInterval := time.Second / time.Duration(config.TickHz)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	rosterTicker := time.NewTicker(config.RosterEvery)
	defer rosterTicker.Stop()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	hits := 0
	for {
		select {
		case sig := <-signalChan:
			logger.Info().Msgf("received %+v signal", sig)
			return nil
		case <-client.Done():
			return errors.New("relay went away")
		case <-rosterTicker.C:
			printRoster(players)
		case <-ticker.C:
			x, y, z, angle := w.step(tickInterval.Seconds())
			if packet := throttle.Next(x, y, z, angle); packet != nil {
				client.Send(packet)
			}

			if n := players.Hits(); n != hits {
				hits = n
				w.health = float32(math.Max(0, float64(w.health)-0.1))
				if w.health == 0 {
					w.health = 1
				}
				client.Send(protocol.EncodeUpdateHealthSend(w.health))
				client.Send(protocol.EncodePlaySoundSend(1))
			}

			if rng.Intn(config.TickHz*2) == 0 {
				shoot(client, players, rng, x, y, z, angle)
			}

			if err := client.Flush(); err != nil {
				return fmt.Errorf("could not flush: %w", err)
			}
		}
	}
}

// shoot fires along the facing direction and claims a hit on a random player.
func shoot(client *relayclient.RelayClient, players *roster.Roster, rng *rand.Rand, x, y, z, angle float32) {
	dx := float32(math.Cos(float64(angle))) * 50
	dz := float32(math.Sin(float64(angle))) * 50
	client.Send(protocol.EncodeShot(x, y, z, x+dx, y, z+dz))
	client.Send(protocol.EncodePlaySoundSend(0))

	known := players.Players()
	if len(known) == 0 {
		return
	}
	target := known[rng.Intn(len(known))]
	client.Send(protocol.EncodeHitPlayerSend(target.ID))
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}

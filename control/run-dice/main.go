package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gcoonrod/dMarkle/control/dice"
	"github.com/gcoonrod/dMarkle/control/encoder"
	"github.com/gcoonrod/dMarkle/control/max7219"
	"github.com/gcoonrod/dMarkle/control/screen"
	"github.com/gcoonrod/dMarkle/control/status"
	"github.com/gcoonrod/dMarkle/control/tm1620"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "golang.org/x/net/trace"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	bind  = flag.String("bind", ":8080", "address to bind for debug/metrics server")
	panel = flag.String("panel", "tm1620", "display panel: tm1620, max7219, or none to run headless")

	clkPin = flag.String("clk", "GPIO11", "tm1620 clock line")
	dioPin = flag.String("dio", "GPIO10", "tm1620 data line")
	stbPin = flag.String("stb", "GPIO8", "tm1620 strobe line")
	spi    = flag.String("spi", "", "spi port that the max7219 is on; empty for the first one")

	digits    = flag.Int("digits", 3, "digits on the display")
	intensity = flag.Int("intensity", 4, "display brightness")
	wide      = flag.Bool("wide", false, "display grids have more than 8 segments")

	encClkPin = flag.String("encoder-clk", "GPIO20", "rotary encoder clock line; empty to run without a knob")
	encDtPin  = flag.String("encoder-dt", "GPIO19", "rotary encoder data line")
	encBtnPin = flag.String("encoder-button", "GPIO18", "rotary encoder push button; empty if there is none")
	threshold = flag.Int("threshold", encoder.DefaultThreshold, "agreeing encoder edges that must be exceeded before a turn counts")

	blink      = flag.Duration("blink", 10*time.Millisecond, "duration of each half of the blinks after selecting a die; 0 to disable")
	animation  = flag.Duration("animation", 100*time.Millisecond, "time each digit stays lit in the roll animation; 0 to disable")
	iterations = flag.Int("iterations", 5, "sweeps in the roll animation")
	history    = flag.Int("history", 20, "rolls to show on the status page")
	haltOnExit = flag.Bool("halt-on-exit", false, "turn the display off on exit instead of leaving a decimal point lit")
)

func pinByName(flagName, name string) gpio.PinIO {
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("-%s: no gpio line named %q", flagName, name)
	}
	return p
}

func openPanel() screen.Panel {
	switch *panel {
	case "tm1620":
		d, err := tm1620.New(pinByName("clk", *clkPin), pinByName("dio", *dioPin), pinByName("stb", *stbPin), &tm1620.Opts{
			Digits:    *digits,
			Active:    true,
			Intensity: *intensity,
			Wide:      *wide,
		})
		if err != nil {
			log.Fatalf("init tm1620: %v", err)
		}
		log.Printf("display: %v", d)
		return d
	case "max7219":
		port, err := spireg.Open(*spi)
		if err != nil {
			log.Fatalf("open spi port %q: %v", *spi, err)
		}
		d, err := max7219.New(port, &max7219.Opts{Digits: *digits, Intensity: *intensity})
		if err != nil {
			log.Fatalf("init max7219: %v", err)
		}
		log.Printf("display: %v", d)
		return d
	case "none":
		log.Printf("running without a display")
		return nil
	}
	log.Fatalf("-panel: unknown panel %q", *panel)
	return nil
}

// leaveDisplay waits up to wait for the dice loop to finish (an animation in progress keeps
// drawing until it is done), then either halts the panel or parks it so that someone looking at
// the appliance can tell whether the OS crashed or we just exited the program for some reason.  A
// nil loopDone means the loop has already returned.
func leaveDisplay(s *screen.Screen, loopDone <-chan error, wait time.Duration, halt bool) error {
	if loopDone != nil {
		select {
		case <-loopDone:
		case <-time.After(wait):
			log.Printf("dice loop did not stop after %v; leaving the display anyway", wait)
		}
	}
	if halt {
		return s.Halt()
	}
	return s.Park()
}

func main() {
	flag.Parse()
	if _, err := host.Init(); err != nil {
		log.Fatalf("init periph.io: %v", err)
	}

	leds := screen.NewScreen(openPanel(), *digits)

	src, err := dice.NewSeededSource()
	if err != nil {
		log.Fatalf("seed random number generator: %v", err)
	}
	controller := dice.New(leds, dice.NewRoller(src), &dice.Opts{
		Width:      *digits,
		Blink:      *blink,
		Animation:  *animation,
		Iterations: *iterations,
		History:    *history,
	})

	var knob *encoder.Decoder
	if *encClkPin != "" {
		var btn gpio.PinIn
		if *encBtnPin != "" {
			btn = pinByName("encoder-button", *encBtnPin)
		}
		knob, err = encoder.New(pinByName("encoder-clk", *encClkPin), pinByName("encoder-dt", *encDtPin), btn, &encoder.Opts{Threshold: *threshold})
		if err != nil {
			log.Fatalf("init encoder: %v", err)
		}
		knob.OnTurn(controller.Turn)
		knob.OnPress(controller.Press)
	} else {
		log.Printf("running without a knob; use /turn and /press")
	}

	ctx, cancel := context.WithCancel(context.Background())

	http.Handle("/", status.Handler(controller, leds))
	http.Handle("/display.png", leds)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/press", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		controller.Press()
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})
	http.HandleFunc("/turn", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		switch req.FormValue("dir") {
		case "left":
			controller.Turn(encoder.Left)
		case "right", "":
			controller.Turn(encoder.Right)
		default:
			http.Error(w, "dir must be left or right", http.StatusBadRequest)
			return
		}
		http.Redirect(w, req, "/", http.StatusSeeOther)
	})

	httpDoneCh := make(chan error)
	httpServer := http.Server{Addr: *bind}
	go func() {
		log.Printf("http server listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		select {
		case httpDoneCh <- err:
		case <-ctx.Done():
		}
		close(httpDoneCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	loopDoneCh := make(chan error)
	go func() {
		err := controller.Run(ctx)
		select {
		case loopDoneCh <- err:
		case <-ctx.Done():
		}
		close(loopDoneCh)
	}()

	knobDoneCh := make(chan error)
	if knob != nil {
		go func() {
			err := knob.Run(ctx)
			select {
			case knobDoneCh <- err:
			case <-ctx.Done():
			}
			close(knobDoneCh)
		}()
	}

	httpAlive := true
	select {
	case err := <-httpDoneCh:
		log.Printf("http server died: %v", err)
		httpAlive = false
	case err := <-loopDoneCh:
		log.Printf("dice loop died: %v", err)
	case err := <-knobDoneCh:
		log.Printf("encoder loop died: %v", err)
	case <-sigCh:
		log.Printf("interrupt")
	}
	signal.Stop(sigCh)
	cancel()

	if err := leaveDisplay(leds, loopDoneCh, 2*time.Second, *haltOnExit); err != nil {
		log.Printf("leave display: %v", err)
	}
	if httpAlive {
		tctx, c := context.WithTimeout(context.Background(), time.Second)
		httpServer.Shutdown(tctx)
		c()
	}
	os.Exit(1)
}

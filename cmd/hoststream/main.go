// Command hoststream runs the Moonlight-compatible streaming host: the RTSP
// setup listener plus the video, audio, and control workers it spawns once a
// client completes ANNOUNCE.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvstream/hostcore/internal/audio"
	"github.com/nvstream/hostcore/internal/capture"
	"github.com/nvstream/hostcore/internal/config"
	"github.com/nvstream/hostcore/internal/control"
	"github.com/nvstream/hostcore/internal/rtsp"
	"github.com/nvstream/hostcore/internal/session"
	"github.com/nvstream/hostcore/internal/video"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults applied if empty)")
	verbose := flag.Bool("verbose", false, "log with microsecond timestamps")
	hevc := flag.Bool("hevc", false, "advertise and accept HEVC streams")
	fecPercentage := flag.Int("fec-percentage", 0, "override FEC parity percentage (0 keeps config value)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		if err := loadConfig(*configPath, cfg); err != nil {
			log.Fatalf("hoststream: load config: %v", err)
		}
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *hevc {
		cfg.HEVCEnabled = true
	}
	if *fecPercentage != 0 {
		cfg.FECPercentage = *fecPercentage
	}

	logFlags := log.LstdFlags
	if cfg.Verbose {
		logFlags |= log.Lmicroseconds
	}
	logger := log.New(os.Stdout, "hoststream: ", logFlags)

	sess := session.New(time.Duration(cfg.PingTimeoutMs) * time.Millisecond)

	videoSource := &capture.LoopbackVideo{}
	audioSource := &capture.LoopbackAudio{}
	input := &capture.LoopbackInput{}
	probe := &capture.StaticProbe{}

	videoStreamer := video.New(cfg.Ports.Video, logger, videoSource)
	audioStreamer := audio.New(cfg.Ports.Audio, logger, audioSource)
	controller := control.New(cfg.Ports.Control, logger, input, probe)

	server := rtsp.New(cfg.Ports.RTSP, logger, cfg.HEVCEnabled, cfg.FECPercentage, videoStreamer, audioStreamer, controller, input)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutting down")
		server.Shutdown()
	}()

	logger.Printf("listening: rtsp=%d video=%d control=%d audio=%d hevc=%v fec=%d%%",
		cfg.Ports.RTSP, cfg.Ports.Video, cfg.Ports.Control, cfg.Ports.Audio, cfg.HEVCEnabled, cfg.FECPercentage)

	if err := server.Run(sess); err != nil {
		log.Fatalf("hoststream: rtsp server: %v", err)
	}
}

func loadConfig(path string, cfg *config.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(cfg)
}

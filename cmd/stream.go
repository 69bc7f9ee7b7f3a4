package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xdimtech/go-avatarlink/pkg/animation"
	"github.com/xdimtech/go-avatarlink/pkg/config"
	"github.com/xdimtech/go-avatarlink/pkg/protocol/avatar"
	"github.com/xdimtech/go-avatarlink/pkg/transport"
)

type streamOptions struct {
	address      string
	emotion      string
	gesture      string
	intensity    float64
	gestureEvery int
	frames       int
}

func streamCmd() *cobra.Command {
	var opts streamOptions

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream emotion frames to a renderer",
		Long: `Connect to a renderer and send one animation_update per frame at the
configured fps. With --gesture a gesture_trigger is sent every --gesture-every
frames. The link reconnects on its own when auto_reconnect is set.

Examples:
  avatarlink stream
  avatarlink stream --emotion=happy --gesture=nod --gesture-every=30
  avatarlink stream --address=ws://10.0.0.5:8080/avatar/v1/ --frames=300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.address == "" {
				opts.address = config.Link().Address
			}
			if opts.emotion == "" {
				opts.emotion = config.Animation().Emotion
			}
			if !animation.IsKnownEmotion(animation.Emotion(opts.emotion)) {
				return fmt.Errorf("unknown emotion %q, want one of %v", opts.emotion, animation.KnownEmotions())
			}
			if opts.gesture != "" && !animation.IsKnownGesture(opts.gesture) {
				return fmt.Errorf("unknown gesture %q, want one of %v", opts.gesture, animation.GestureNames())
			}
			if !avatar.Intensity(opts.intensity).Valid() {
				return fmt.Errorf("intensity %v is outside [0, 1]", opts.intensity)
			}
			return runStream(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.address, "address", "a", "", "Renderer url (default link.address)")
	cmd.Flags().StringVarP(&opts.emotion, "emotion", "e", "", "Emotion preset (default animation.emotion)")
	cmd.Flags().StringVarP(&opts.gesture, "gesture", "g", "", "Gesture to trigger periodically")
	cmd.Flags().Float64Var(&opts.intensity, "intensity", float64(avatar.DefaultIntensity), "Gesture intensity in [0, 1]")
	cmd.Flags().IntVar(&opts.gestureEvery, "gesture-every", 30, "Frames between gesture triggers")
	cmd.Flags().IntVarP(&opts.frames, "frames", "n", 0, "Stop after this many frames, 0 streams until interrupted")

	return cmd
}

func reconnectPolicy(lc *config.LinkConf) transport.ReconnectPolicy {
	if !lc.Backoff.Enabled {
		return transport.FixedInterval{Interval: lc.ReconnectInterval, MaxAttempts: lc.Backoff.MaxAttempts}
	}
	return transport.ExponentialBackoff{
		Initial:     lc.ReconnectInterval,
		Max:         lc.Backoff.MaxInterval,
		Multiplier:  lc.Backoff.Multiplier,
		Jitter:      lc.Backoff.Jitter,
		MaxAttempts: lc.Backoff.MaxAttempts,
	}
}

func runStream(parent context.Context, opts streamOptions) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lc := config.Link()
	fps := config.Animation().FPS
	reg := prometheus.NewRegistry()

	link := transport.New(transport.Config{
		Address:           opts.address,
		AutoReconnect:     lc.AutoReconnect,
		ReconnectInterval: lc.ReconnectInterval,
	},
		transport.WithDialer(&transport.WSDialer{
			HandshakeTimeout: lc.HandshakeTimeout,
			CloseGrace:       lc.CloseGrace,
		}),
		transport.WithReconnectPolicy(reconnectPolicy(lc)),
		transport.WithEncoder(avatar.NewEncoder(avatar.WithFPS(fps))),
		transport.WithMetrics(transport.NewMetrics(reg)),
		transport.WithLogger(logger),
	)
	_, unsubscribe := link.Subscribe(transport.Handlers{
		OnConnected: func() {
			logger.Info("renderer connected", zap.String("address", opts.address))
		},
		OnDisconnected: func() {
			logger.Info("renderer disconnected")
		},
		OnMessageReceived: func(text string) {
			logger.Debug("renderer message", zap.String("message", text))
		},
		OnError: func(err error) {
			logger.Warn("link error", zap.Error(err))
		},
	})
	defer unsubscribe()

	if err := link.Connect(ctx); err != nil && !lc.AutoReconnect {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if addr := config.Get().Metrics.Listen; addr != "" {
		group.Go(func() error {
			return serveMetrics(ctx, addr, reg)
		})
	}
	group.Go(func() error {
		defer stop()
		return streamFrames(ctx, link, opts, fps)
	})

	<-ctx.Done()
	if err := link.Close(); err != nil {
		logger.Warn("close link", zap.Error(err))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = link.Flush(flushCtx)
	return group.Wait()
}

func streamFrames(ctx context.Context, link *transport.Supervisor, opts streamOptions, fps int) error {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	weights := animation.DefaultBlendshapes(animation.Emotion(opts.emotion))
	for n := 1; opts.frames == 0 || n <= opts.frames; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		frame := avatar.AnimationFrame{
			Blendshapes: weights,
			Emotion:     opts.emotion,
			Gestures:    []string{},
		}
		trigger := opts.gesture != "" && opts.gestureEvery > 0 && n%opts.gestureEvery == 0
		if trigger {
			frame.Gestures = append(frame.Gestures, opts.gesture)
		}
		if err := link.SendAnimation(ctx, frame); err != nil {
			logger.Warn("send animation", zap.Int("frame", n), zap.Error(err))
		}
		if trigger {
			if err := link.SendGesture(ctx, opts.gesture, avatar.WithIntensity(opts.intensity)); err != nil {
				logger.Warn("send gesture", zap.String("gesture", opts.gesture), zap.Error(err))
			}
		}
	}
	return nil
}

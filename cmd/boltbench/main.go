package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/connection"
	"github.com/VolantMQ/vlbolt/mw"
)

var logger *zap.SugaredLogger

type options struct {
	client  *configuration.ClientConfig
	subject string
	count   int
	size    int
	timeout time.Duration
}

func newBar(p *mpb.Progress, name string, total int) *mpb.Bar {
	return p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: 10, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 6}),
		),
	)
}

func dial(opts *options) (mw.ConnectionInterface, error) {
	c, err := mw.New(mw.ConfigFromClient(opts.client),
		mw.WithLogger(logger.Named("bench")),
		mw.WithConnectionOptions(connection.FromConfig(opts.client)))
	if err != nil {
		return nil, err
	}

	if err = c.Connect(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

func run(opts *options) error {
	sub, err := dial(opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Disconnect()
	}()

	pub, err := dial(opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = pub.Disconnect()
	}()

	if err = sub.Subscribe(opts.subject, nil); err != nil {
		return err
	}

	p := mpb.New(mpb.WithWidth(48))
	sent := newBar(p, "publish", opts.count)
	received := newBar(p, "receive", opts.count)

	payload := make([]byte, opts.size)
	for i := range payload {
		payload[i] = byte(i)
	}

	var wg sync.WaitGroup
	wg.Add(1)

	start := time.Now()
	var got int

	go func() {
		defer wg.Done()

		deadline := time.Now().Add(opts.timeout)
		for got < opts.count {
			left := time.Until(deadline)
			if left <= 0 {
				break
			}

			msg, e := sub.Receive(left)
			if e != nil || msg == nil {
				break
			}

			got++
			received.Increment()
		}

		if got < opts.count {
			received.SetTotal(int64(got), true)
		}
	}()

	var pubErr error

	for i := 0; i < opts.count; i++ {
		msg := mw.NewMessage(opts.subject, mw.KindPublish).SetInt32("SEQ", int32(i))
		msg.Payload = payload

		if pubErr = pub.Publish(msg, nil); pubErr != nil {
			sent.SetTotal(int64(i), true)
			break
		}

		sent.Increment()
	}

	wg.Wait()
	p.Wait()

	elapsed := time.Since(start)

	logger.Infow("done",
		"published", opts.count,
		"received", got,
		"elapsed", elapsed.String(),
		"msgPerSec", int(float64(got)/elapsed.Seconds()))

	return pubErr
}

func main() {
	opts := &options{}

	configFile := flag.String("config", configuration.ConfigFile(), "path to config file, client section is used")
	server := flag.String("server", "", "comma separated list of servers, overrides config")
	flag.StringVar(&opts.subject, "subject", "GMSEC.BENCH.TEST", "subject to publish to")
	flag.IntVar(&opts.count, "count", 10000, "messages to publish")
	flag.IntVar(&opts.size, "size", 128, "payload size")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "time to wait for all messages")
	flag.Parse()

	logger = configuration.GetLogger()

	config, err := configuration.ReadConfig(*configFile)
	if err != nil {
		logger.Fatalw("couldn't read config", "error", err)
	}

	if err = configuration.ConfigureLoggers(&config.Log); err != nil {
		logger.Fatalw("couldn't configure loggers", "error", err)
	}

	logger = configuration.GetLogger()

	if len(*server) > 0 {
		config.Client.Servers = *server
	}

	opts.client = &config.Client

	if err = run(opts); err != nil {
		logger.Errorw("benchmark failed", "error", err)
		os.Exit(1)
	}
}

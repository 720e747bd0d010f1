package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
)

// Run serves HTTP and runs the adapter until ctx is canceled or the adapter
// stops. The robot is closed when Run returns.
//
// Run triggers loaded once the HTTP server is listening, shut_down_started
// when shutdown begins, and shut_down_complete after the adapter and server
// have stopped.
func (robo *Robot) Run(ctx context.Context) error {
	defer robo.Close()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/heap/allocs:bytes|/memory/classes/total:bytes|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(robo.metrics.Collectors()...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	robo.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))

	host := config.Value[string](robo.cfg, "http.host")
	port := config.Value[int](robo.cfg, "http.port")
	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("couldn't start HTTP server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	srv := http.Server{
		Handler:     robo.mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	group.Go(func() error {
		slog.InfoContext(ctx, "HTTP server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server closed: %w", err)
	})
	robo.addr = l.Addr()
	if err := robo.Trigger(ctx, "loaded", handler.Payload{"robot": robo}); err != nil {
		slog.ErrorContext(ctx, "loaded event failed", slog.Any("err", err))
	}
	close(robo.ready)

	group.Go(func() error {
		// The adapter stopping for any reason stops the robot.
		defer cancel()
		slog.InfoContext(ctx, "adapter running", slog.String("adapter", config.Value[string](robo.cfg, "robot.adapter")))
		return robo.adapter.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		// The context is now done, so it is obviously the wrong choice for
		// managing the shutdown.
		sctx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer stop()
		slog.InfoContext(sctx, "shutting down")
		if err := robo.Trigger(sctx, "shut_down_started", handler.Payload{"robot": robo}); err != nil {
			slog.ErrorContext(sctx, "shut_down_started event failed", slog.Any("err", err))
		}
		var errs []error
		if s, ok := robo.adapter.(Shutdowner); ok {
			errs = append(errs, s.Shutdown(sctx))
		}
		errs = append(errs, srv.Shutdown(sctx))
		return errors.Join(errs...)
	})

	err = group.Wait()
	robo.Wait()
	done := context.WithoutCancel(ctx)
	if err := robo.Trigger(done, "shut_down_complete", handler.Payload{"robot": robo}); err != nil {
		slog.ErrorContext(done, "shut_down_complete event failed", slog.Any("err", err))
	}
	if errors.Is(err, context.Canceled) {
		// If the first error is context canceled, then we are shutting down
		// normally in response to a sigint.
		err = nil
	}
	return err
}

// Ready returns a channel which is closed once the robot's HTTP server is
// listening and the loaded event has been triggered.
func (robo *Robot) Ready() <-chan struct{} {
	return robo.ready
}

// Addr returns the address of the HTTP server. It is nil until Ready is
// closed.
func (robo *Robot) Addr() net.Addr {
	return robo.addr
}

// Package daemon exposes the protocol executor over an HTTP API on a
// unix socket, for the CLI and any presentation layer to consume.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/swbio/pipet/pkg/config"
	"github.com/swbio/pipet/pkg/events"
	"github.com/swbio/pipet/pkg/executor"
	"github.com/swbio/pipet/pkg/robot"
	"github.com/swbio/pipet/pkg/transport"
)

var (
	conf *config.Config
	rb   *robot.Robot
	exec *executor.Executor
	hub  *events.Hub
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", getStatus)
	router.GET("/position", getPosition)
	router.GET("/config", getConfig)
	router.GET("/version", getVersion)
	router.GET("/events", getEvents)
	router.POST("/run", postRun)
	router.POST("/abort", postAbort)
	router.POST("/home", postHome)
	router.POST("/jog", postJog)
	router.POST("/sync-position", postSyncPosition)

	return router
}

// Run starts the daemon and blocks until a termination signal. With
// simulate set, commands are acknowledged by a loopback instead of the
// serial line, so protocols can be exercised without hardware.
func Run(configPath string, unixSocketPath string, simulate bool) error {
	var err error
	conf, err = config.Load(configPath)
	if err != nil {
		return err
	}
	logrus.WithFields(conf.LogrusFields()).Info("config loaded")

	layout, err := conf.DeckLayout()
	if err != nil {
		return err
	}

	var tr transport.Transport
	if simulate {
		logrus.Warn("simulation mode: commands are not sent to hardware")
		tr = transport.NewMock()
	} else {
		tr, err = transport.OpenSerial(conf.Serial)
		if err != nil {
			return err
		}
	}

	cal := conf.Syringe
	rb = robot.New(tr, layout, &cal, conf.RobotConfig())
	hub = events.NewHub()
	exec = executor.New(rb, hub)

	srv := &http.Server{
		Handler: setupRoutes(),
	}

	// A stale socket from a crashed daemon blocks the listen.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return err
	}

	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	exec.Abort()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("closing transport")
	if err := rb.Close(); err != nil {
		logrus.Errorf("failed to close transport: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"github.com/spf13/viper"
	"wuyrush.io/wave/common/identity"
	"wuyrush.io/wave/common/logging"
	"wuyrush.io/wave/common/metrics"
	mw "wuyrush.io/wave/common/middleware"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	st "wuyrush.io/wave/stores"
)

const serviceName = "wave_reader"

// reader handles read traffic of wave application. Multiple readers form the service
// component to handle the application's read operations
type reader struct {
	Router *gin.Engine
	DAO    st.WaveDAO
	ID     *identity.Identity
	M      *metrics.Metrics
	Now    func() time.Time
}

func serve() error {
	r, err := setup()
	if err != nil {
		return err
	}
	defer r.DAO.Close()
	s := &http.Server{
		Addr:           viper.GetString(cst.EnvReaderAddr),
		Handler:        r.Router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 12,
	}
	clog := logging.WithFuncName().WithField("addr", s.Addr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		clog.Info("got termination signal. Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			clog.WithError(err).Error("error shutting down reader")
		}
	}()
	clog.Info("reader serving")
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setup() (*reader, error) {
	viper.AutomaticEnv()
	viper.SetDefault(cst.EnvReaderAddr, ":8081")
	viper.SetDefault(cst.EnvRateLimitRPS, 100.0)
	viper.SetDefault(cst.EnvRateLimitBurst, 200)
	logging.SetupLog("wave-reader")
	if !viper.GetBool(cst.EnvVerbose) {
		gin.SetMode(gin.ReleaseMode)
	}
	secret := viper.GetString(cst.EnvSessionSecret)
	if secret == "" {
		return nil, se.NewBadInput(cst.EnvSessionSecret + " is not set")
	}
	dao, err := st.SetupRedisWaveDAO()
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error setting up WaveDAO")
		return nil, err
	}
	r := &reader{
		DAO: dao,
		ID:  identity.New([]byte(secret)),
		M:   metrics.New(serviceName),
		Now: time.Now,
	}
	r.SetupRoutes(mw.GinRateLimiter(viper.GetInt(cst.EnvRateLimitBurst), viper.GetFloat64(cst.EnvRateLimitRPS)))
	return r, nil
}

func (r *reader) SetupRoutes(limiter gin.HandlerFunc) {
	rt := gin.New()
	rt.Use(gin.Recovery(), mw.GinInstrument(r.M))
	rt.GET("/metrics", gin.WrapH(r.M.Handler()))

	waves := rt.Group("/waves", limiter, r.ID.Gin())
	waves.GET("/mine", r.HandleListMine)
	waves.GET("/allies", r.HandleListAllies)
	waves.GET("/:id/viewers", r.HandleListViewers)
	r.Router = rt
}

func (r *reader) HandleListMine(c *gin.Context) {
	userID, _ := identity.GinUser(c)
	ws, err := r.DAO.ListByAuthor(userID, r.Now())
	if err != nil {
		r.fail(c, "listMine", err)
		return
	}
	r.M.CountOp("listMine", metrics.OutcomeOK)
	c.JSON(http.StatusOK, ws)
}

func (r *reader) HandleListAllies(c *gin.Context) {
	userID, _ := identity.GinUser(c)
	ws, err := r.DAO.ListAllies(userID, r.Now())
	if err != nil {
		r.fail(c, "listAllies", err)
		return
	}
	r.M.CountOp("listAllies", metrics.OutcomeOK)
	c.JSON(http.StatusOK, ws)
}

func (r *reader) HandleListViewers(c *gin.Context) {
	userID, _ := identity.GinUser(c)
	waveID := c.Param("id")
	if _, err := ksuid.Parse(waveID); err != nil {
		r.fail(c, "listViewers", se.NewBadInput("invalid wave id").WithCause(err))
		return
	}
	vs, err := r.DAO.Viewers(waveID, userID, r.Now())
	if err != nil {
		r.fail(c, "listViewers", err)
		return
	}
	r.M.CountOp("listViewers", metrics.OutcomeOK)
	c.JSON(http.StatusOK, vs)
}

func (r *reader) fail(c *gin.Context, op string, err *se.Err) {
	clog := logging.WithFuncName().WithField("op", op)
	if err.StatusCode() >= http.StatusInternalServerError {
		clog.Error(err.Trace())
	} else {
		clog.WithError(err).Debug("rejected request")
	}
	r.M.CountOp(op, string(err.Code))
	c.AbortWithStatusJSON(err.StatusCode(), err.Body())
}

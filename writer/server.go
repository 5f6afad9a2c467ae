package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	hr "github.com/julienschmidt/httprouter"
	"github.com/segmentio/ksuid"
	"github.com/spf13/viper"
	"wuyrush.io/wave/common/identity"
	"wuyrush.io/wave/common/logging"
	"wuyrush.io/wave/common/metrics"
	mw "wuyrush.io/wave/common/middleware"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
	st "wuyrush.io/wave/stores"
)

const serviceName = "wave_writer"

// writer handles write traffic of wave application. Multiple writers form the service
// component to handle the application's write operations
type writer struct {
	R   *hr.Router
	DAO st.WaveDAO
	ID  *identity.Identity
	M   *metrics.Metrics
	Now func() time.Time
}

func (wrt *writer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wrt.R.ServeHTTP(w, r)
}

func serve() error {
	s, dao, err := setup()
	if err != nil {
		return err
	}
	defer dao.Close()
	clog := logging.WithFuncName().WithField("addr", s.Addr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		clog.Info("got termination signal. Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			clog.WithError(err).Error("error shutting down writer")
		}
	}()
	clog.Info("writer serving")
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setup() (*http.Server, st.WaveDAO, error) {
	viper.AutomaticEnv()
	viper.SetDefault(cst.EnvWriterAddr, ":8080")
	viper.SetDefault(cst.EnvRateLimitRPS, 100.0)
	viper.SetDefault(cst.EnvRateLimitBurst, 200)
	viper.SetDefault(cst.EnvReqBodySizeMax, 1<<14)
	logging.SetupLog("wave-writer")
	secret := viper.GetString(cst.EnvSessionSecret)
	if secret == "" {
		return nil, nil, se.NewBadInput(cst.EnvSessionSecret + " is not set")
	}
	dao, err := st.SetupRedisWaveDAO()
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error setting up WaveDAO")
		return nil, nil, err
	}
	wrt := &writer{
		DAO: dao,
		ID:  identity.New([]byte(secret)),
		M:   metrics.New(serviceName),
		Now: time.Now,
	}
	wrt.SetupRoutes(
		mw.RateLimiter(viper.GetInt(cst.EnvRateLimitBurst), viper.GetFloat64(cst.EnvRateLimitRPS)),
		viper.GetInt64(cst.EnvReqBodySizeMax),
	)
	return &http.Server{
		Addr:           viper.GetString(cst.EnvWriterAddr),
		Handler:        wrt,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 12,
	}, dao, nil
}

func (wrt *writer) SetupRoutes(limiter mw.Middleware, bodySizeMax int64) {
	r := hr.New()
	route := func(path string, h hr.Handle) hr.Handle {
		// outermost last
		return mw.Chain(h,
			wrt.ID.Middleware(),
			mw.BodyLimiter(bodySizeMax),
			limiter,
			mw.Instrument(wrt.M, path),
			mw.PanicRecoverer(),
		)
	}
	r.POST("/waves", route("/waves", wrt.HandleCreateWave))
	r.DELETE("/waves/:id", route("/waves/:id", wrt.HandleDeleteWave))
	r.POST("/waves/:id/views", route("/waves/:id/views", wrt.HandleRecordView))
	r.POST("/waves/:id/reactions", route("/waves/:id/reactions", wrt.HandleReact))
	r.Handler(http.MethodGet, "/metrics", wrt.M.Handler())
	wrt.R = r
}

func (wrt *writer) HandleCreateWave(w http.ResponseWriter, r *http.Request, _ hr.Params) {
	userID, _ := identity.User(r.Context())
	clog := logging.WithFuncName().WithField(cst.LogFieldAuthorID, userID)
	var d md.Draft
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		clog.WithError(err).Debug("error decoding wave draft")
		wrt.fail(w, "create", se.NewBadInput("malformed wave draft").WithCause(err))
		return
	}
	wave, err := wrt.DAO.Create(userID, &d, wrt.Now())
	if err != nil {
		wrt.fail(w, "create", err)
		return
	}
	wrt.M.CountOp("create", metrics.OutcomeOK)
	mw.RespondJSON(w, http.StatusCreated, wave)
}

func (wrt *writer) HandleDeleteWave(w http.ResponseWriter, r *http.Request, p hr.Params) {
	wrt.handleWaveOp(w, r, p, "delete", func(waveID, userID string) *se.Err {
		return wrt.DAO.Delete(waveID, userID)
	})
}

func (wrt *writer) HandleRecordView(w http.ResponseWriter, r *http.Request, p hr.Params) {
	wrt.handleWaveOp(w, r, p, "view", func(waveID, userID string) *se.Err {
		return wrt.DAO.RecordView(waveID, userID, wrt.Now())
	})
}

func (wrt *writer) HandleReact(w http.ResponseWriter, r *http.Request, p hr.Params) {
	wrt.handleWaveOp(w, r, p, "react", func(waveID, userID string) *se.Err {
		return wrt.DAO.React(waveID, userID, wrt.Now())
	})
}

// handleWaveOp runs an operation on the wave named by the path answering 204 on success
func (wrt *writer) handleWaveOp(w http.ResponseWriter, r *http.Request, p hr.Params, op string, f func(waveID, userID string) *se.Err) {
	userID, _ := identity.User(r.Context())
	waveID, err := waveIDParam(p)
	if err != nil {
		wrt.fail(w, op, err)
		return
	}
	if err := f(waveID, userID); err != nil {
		wrt.fail(w, op, err)
		return
	}
	wrt.M.CountOp(op, metrics.OutcomeOK)
	w.WriteHeader(http.StatusNoContent)
}

func (wrt *writer) fail(w http.ResponseWriter, op string, err *se.Err) {
	clog := logging.WithFuncName().WithField("op", op)
	if err.StatusCode() >= http.StatusInternalServerError {
		clog.Error(err.Trace())
	} else {
		clog.WithError(err).Debug("rejected request")
	}
	wrt.M.CountOp(op, string(err.Code))
	mw.RespondErr(w, err)
}

func waveIDParam(p hr.Params) (string, *se.Err) {
	id := p.ByName("id")
	if _, err := ksuid.Parse(id); err != nil {
		return "", se.NewBadInput("invalid wave id").WithCause(err)
	}
	return id, nil
}

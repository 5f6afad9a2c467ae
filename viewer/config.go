package main

import (
	"sync"
	"time"

	"github.com/spf13/viper"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	"wuyrush.io/wave/lifecycle"
	"wuyrush.io/wave/workers/refresher"
)

type config struct {
	WriterURL     string
	ReaderURL     string
	SessionCookie string
	Timeout       time.Duration
	ViewerID      string
	// DBPath locates the sqlite database remembering viewed waves across runs. Viewed waves are
	// kept in memory only when it is empty.
	DBPath          string
	RefreshInterval time.Duration
	// VideoFallback is how long a video wave plays, as the terminal cannot play media
	VideoFallback time.Duration
}

func loadConfig() (*config, error) {
	viper.AutomaticEnv()
	viper.SetDefault(cst.EnvAPITimeout, 10*time.Second)
	viper.SetDefault(cst.EnvRefreshInterval, refresher.DefaultInterval)
	viper.SetDefault(cst.EnvVideoFallback, 15*time.Second)
	cfg := &config{
		WriterURL:       viper.GetString(cst.EnvAPIWriterURL),
		ReaderURL:       viper.GetString(cst.EnvAPIReaderURL),
		SessionCookie:   viper.GetString(cst.EnvAPISessionCookie),
		Timeout:         viper.GetDuration(cst.EnvAPITimeout),
		ViewerID:        viper.GetString(cst.EnvViewerID),
		DBPath:          viper.GetString(cst.EnvViewerDBPath),
		RefreshInterval: viper.GetDuration(cst.EnvRefreshInterval),
		VideoFallback:   viper.GetDuration(cst.EnvVideoFallback),
	}
	for env, v := range map[string]string{
		cst.EnvAPIWriterURL:     cfg.WriterURL,
		cst.EnvAPIReaderURL:     cfg.ReaderURL,
		cst.EnvAPISessionCookie: cfg.SessionCookie,
		cst.EnvViewerID:         cfg.ViewerID,
	} {
		if v == "" {
			return nil, se.NewBadInput(env + " is not set")
		}
	}
	if cfg.VideoFallback <= 0 {
		return nil, se.NewBadInput(cst.EnvVideoFallback + " must be positive")
	}
	return cfg, nil
}

// commandContext lazily loads the configuration shared by all commands
type commandContext struct {
	load       func() (*config, error)
	newService func(*config) (lifecycle.Service, func())

	once sync.Once
	cfg  *config
	err  error
}

func newCommandContext() *commandContext {
	return &commandContext{load: loadConfig, newService: newClient}
}

func (c *commandContext) ensureConfig() (*config, error) {
	c.once.Do(func() {
		c.cfg, c.err = c.load()
	})
	return c.cfg, c.err
}

func (c *commandContext) withService(fn func(*config, lifecycle.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	svc, closeFn := c.newService(cfg)
	defer closeFn()
	return fn(cfg, svc)
}

func newClient(cfg *config) (lifecycle.Service, func()) {
	c := lifecycle.NewClient(&lifecycle.Config{
		WriterURL:      cfg.WriterURL,
		ReaderURL:      cfg.ReaderURL,
		SessionCookie:  cfg.SessionCookie,
		RequestTimeout: cfg.Timeout,
	})
	return c, c.Close
}

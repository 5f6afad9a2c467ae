package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/segmentio/ksuid"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/wave/common/logging"
	cst "wuyrush.io/wave/constants"
	se "wuyrush.io/wave/errors"
	md "wuyrush.io/wave/models"
)

// WaveDAO vends the interface to interact with wave data on the server side. now is passed in
// explicitly so that activeness is decided against a single point in time per request.
type WaveDAO interface {
	Create(authorID string, d *md.Draft, now time.Time) (*md.Wave, *se.Err)
	// Get returns an active wave; expired or missing waves are reported as NotFound
	Get(waveID string, now time.Time) (*md.Wave, *se.Err)
	ListByAuthor(authorID string, now time.Time) ([]md.Wave, *se.Err)
	// ListAllies returns the active waves of the allies of userID
	ListAllies(userID string, now time.Time) ([]md.Wave, *se.Err)
	// RecordView is idempotent per (wave, viewer): only the first view bumps the view count
	RecordView(waveID, viewerID string, now time.Time) *se.Err
	React(waveID, userID string, now time.Time) *se.Err
	// Delete removes a wave of userID. Only the author may delete a wave.
	Delete(waveID, userID string) *se.Err
	// Viewers lists the viewers of a wave of userID, in view order. Only the author may list them.
	Viewers(waveID, userID string, now time.Time) ([]md.Viewer, *se.Err)
	Close() *se.Err
}

// RedisWaveDAO is a WaveDAO implementation driven by Redis. Every key of a wave expires along
// with the wave, so Redis' own key expiry reclaims storage.
type RedisWaveDAO struct {
	DB     *redis.Client
	Allies *AllyCache
}

const (
	fieldNameAuthorID        = "authorId"
	fieldNameKind            = "kind"
	fieldNameMediaURL        = "mediaUrl"
	fieldNameTextContent     = "textContent"
	fieldNameBackgroundColor = "backgroundColor"
	fieldNameCaption         = "caption"
	fieldNameCreatedAt       = "createdAt"
	fieldNameExpiresAt       = "expiresAt"

	// hash of wave data
	keyTmplWave = "wave:%s"
	// sorted set of the ids of an author's waves, scored by creation time in epoch millis
	keyTmplAuthorWaves = "waves:%s"
	// sorted set of the viewers of a wave, scored by view time in epoch millis
	keyTmplViewers = "wave:%s:viewers"
	// set of the users who reacted to a wave
	keyTmplReactors = "wave:%s:reactors"
)

func NewRedisWaveDAO(db *redis.Client, allies *AllyCache) *RedisWaveDAO {
	return &RedisWaveDAO{DB: db, Allies: allies}
}

func (s *RedisWaveDAO) Create(authorID string, d *md.Draft, now time.Time) (*md.Wave, *se.Err) {
	const errMsg = "error creating wave"
	if err := d.Validate(); err != nil {
		return nil, err
	}
	// Redis keeps milliseconds
	w := md.NewWave(ksuid.New().String(), authorID, d, now.UTC().Truncate(time.Millisecond))
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldWaveID: w.ID, cst.LogFieldAuthorID: authorID})
	fields := map[string]interface{}{
		fieldNameAuthorID:  w.AuthorID,
		fieldNameKind:      string(w.Kind),
		fieldNameCreatedAt: w.CreatedAt.UnixMilli(),
		fieldNameExpiresAt: w.ExpiresAt.UnixMilli(),
	}
	if w.MediaURL != "" {
		fields[fieldNameMediaURL] = w.MediaURL
	}
	if w.TextContent != "" {
		fields[fieldNameTextContent] = w.TextContent
		fields[fieldNameBackgroundColor] = w.BackgroundColor
	}
	if w.Caption != nil {
		fields[fieldNameCaption] = *w.Caption
	}
	waveKey, indexKey := waveKey(w.ID), authorWavesKey(authorID)
	_, err := s.DB.TxPipelined(func(p redis.Pipeliner) error {
		p.HMSet(waveKey, fields)
		p.ExpireAt(waveKey, w.ExpiresAt)
		p.ZAdd(indexKey, redis.Z{Score: float64(w.CreatedAt.UnixMilli()), Member: w.ID})
		// outlives every wave indexed so far; pruning drops the expired entries
		p.Expire(indexKey, md.TTL)
		return nil
	})
	if err != nil {
		clog.WithError(err).Error("error calling Redis to save wave")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	clog.WithField("expiresAt", w.ExpiresAt).Info("created wave")
	return w, nil
}

func (s *RedisWaveDAO) Get(waveID string, now time.Time) (*md.Wave, *se.Err) {
	ws, err := s.load([]string{waveID})
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 || !ws[0].Active(now) {
		return nil, se.NewNotFound(fmt.Sprintf("wave %s not found", waveID))
	}
	return &ws[0], nil
}

func (s *RedisWaveDAO) ListByAuthor(authorID string, now time.Time) ([]md.Wave, *se.Err) {
	const errMsg = "error listing waves"
	clog := logging.WithFuncName().WithField(cst.LogFieldAuthorID, authorID)
	indexKey := authorWavesKey(authorID)
	// waves created at or before the cutoff have expired
	cutoff := strconv.FormatInt(now.Add(-md.TTL).UnixMilli(), 10)
	if _, err := s.DB.ZRemRangeByScore(indexKey, "-inf", cutoff).Result(); err != nil {
		clog.WithError(err).Error("error calling Redis to prune author index")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	ids, err := s.DB.ZRangeByScore(indexKey, redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		clog.WithError(err).Error("error calling Redis to get ids of author waves")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	ws, serr := s.load(ids)
	if serr != nil {
		return nil, serr
	}
	active := make([]md.Wave, 0, len(ws))
	for _, w := range ws {
		if w.Active(now) {
			active = append(active, w)
		}
	}
	return active, nil
}

func (s *RedisWaveDAO) ListAllies(userID string, now time.Time) ([]md.Wave, *se.Err) {
	allies, err := s.Allies.Get(userID)
	if err != nil {
		return nil, err
	}
	ws := []md.Wave{}
	for _, allyID := range allies.Sorted() {
		if allyID == userID {
			continue
		}
		aws, err := s.ListByAuthor(allyID, now)
		if err != nil {
			return nil, err
		}
		for _, w := range aws {
			ws = append(ws, redact(w, userID))
		}
	}
	return ws, nil
}

func (s *RedisWaveDAO) RecordView(waveID, viewerID string, now time.Time) *se.Err {
	const errMsg = "error recording wave view"
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldWaveID: waveID, cst.LogFieldViewerID: viewerID})
	w, err := s.visibleWave(waveID, viewerID, now)
	if err != nil {
		return err
	}
	if w.AuthorID == viewerID {
		// an author watching their own wave is not a view
		return nil
	}
	// the view count is the cardinality of the viewer set, so a view is recorded and counted at once
	viewersKey := viewersKey(waveID)
	var added *redis.IntCmd
	_, rerr := s.DB.TxPipelined(func(p redis.Pipeliner) error {
		added = p.ZAddNX(viewersKey, redis.Z{Score: float64(now.UnixMilli()), Member: viewerID})
		p.ExpireAt(viewersKey, w.ExpiresAt)
		return nil
	})
	if rerr != nil {
		clog.WithError(rerr).Error("error calling Redis to add wave viewer")
		return se.NewServiceFailure(errMsg).WithCause(rerr)
	}
	if added.Val() == 0 {
		clog.Debug("view already recorded")
	}
	return nil
}

func (s *RedisWaveDAO) React(waveID, userID string, now time.Time) *se.Err {
	const errMsg = "error reacting to wave"
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldWaveID: waveID, cst.LogFieldViewerID: userID})
	w, err := s.visibleWave(waveID, userID, now)
	if err != nil {
		return err
	}
	reactorsKey := reactorsKey(waveID)
	_, rerr := s.DB.TxPipelined(func(p redis.Pipeliner) error {
		p.SAdd(reactorsKey, userID)
		p.ExpireAt(reactorsKey, w.ExpiresAt)
		return nil
	})
	if rerr != nil {
		clog.WithError(rerr).Error("error calling Redis to add wave reactor")
		return se.NewServiceFailure(errMsg).WithCause(rerr)
	}
	return nil
}

func (s *RedisWaveDAO) Delete(waveID, userID string) *se.Err {
	const errMsg = "error deleting wave"
	clog := logging.WithFuncName().WithFields(log.Fields{cst.LogFieldWaveID: waveID, cst.LogFieldViewerID: userID})
	authorID, err := s.DB.HGet(waveKey(waveID), fieldNameAuthorID).Result()
	if err == redis.Nil {
		return se.NewNotFound(fmt.Sprintf("wave %s not found", waveID))
	} else if err != nil {
		clog.WithError(err).Error("error calling Redis to get wave author")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	if authorID != userID {
		return se.NewForbidden("only the author may delete a wave")
	}
	_, err = s.DB.TxPipelined(func(p redis.Pipeliner) error {
		p.Del(waveKey(waveID), viewersKey(waveID), reactorsKey(waveID))
		p.ZRem(authorWavesKey(authorID), waveID)
		return nil
	})
	if err != nil {
		clog.WithError(err).Error("error calling Redis to delete wave")
		return se.NewServiceFailure(errMsg).WithCause(err)
	}
	clog.Info("deleted wave")
	return nil
}

func (s *RedisWaveDAO) Viewers(waveID, userID string, now time.Time) ([]md.Viewer, *se.Err) {
	const errMsg = "error listing wave viewers"
	w, err := s.Get(waveID, now)
	if err != nil {
		return nil, err
	}
	if w.AuthorID != userID {
		return nil, se.NewForbidden("only the author may list the viewers of a wave")
	}
	zs, rerr := s.DB.ZRangeWithScores(viewersKey(waveID), 0, -1).Result()
	if rerr != nil {
		logging.WithFuncName().WithError(rerr).WithField(cst.LogFieldWaveID, waveID).Error("error calling Redis to get wave viewers")
		return nil, se.NewServiceFailure(errMsg).WithCause(rerr)
	}
	vs := make([]md.Viewer, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		vs = append(vs, md.Viewer{UserID: id, ViewedAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return vs, nil
}

func (s *RedisWaveDAO) Close() *se.Err {
	if err := s.DB.Close(); err != nil {
		return se.NewServiceFailure("failed close Redis client").WithCause(err)
	}
	return nil
}

// visibleWave returns the active wave if userID may see it, i.e., userID is the author or one of
// the author's allies.
func (s *RedisWaveDAO) visibleWave(waveID, userID string, now time.Time) (*md.Wave, *se.Err) {
	w, err := s.Get(waveID, now)
	if err != nil {
		return nil, err
	}
	if w.AuthorID == userID {
		return w, nil
	}
	allies, err := s.Allies.Get(userID)
	if err != nil {
		return nil, err
	}
	if !allies.Has(w.AuthorID) {
		return nil, se.NewForbidden(fmt.Sprintf("wave %s is not visible to the user", waveID))
	}
	return w, nil
}

// load fetches waves in a single round trip, in the order of ids. Waves gone from Redis are skipped.
func (s *RedisWaveDAO) load(ids []string) ([]md.Wave, *se.Err) {
	const errMsg = "error loading waves"
	clog := logging.WithFuncName()
	if len(ids) == 0 {
		return []md.Wave{}, nil
	}
	type cmds struct {
		wave     *redis.StringStringMapCmd
		viewers  *redis.StringSliceCmd
		reactors *redis.StringSliceCmd
	}
	cs := make([]cmds, len(ids))
	_, err := s.DB.Pipelined(func(p redis.Pipeliner) error {
		for i, id := range ids {
			cs[i] = cmds{
				wave:     p.HGetAll(waveKey(id)),
				viewers:  p.ZRange(viewersKey(id), 0, -1),
				reactors: p.SMembers(reactorsKey(id)),
			}
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		clog.WithError(err).Error("error calling Redis to get wave data")
		return nil, se.NewServiceFailure(errMsg).WithCause(err)
	}
	ws := make([]md.Wave, 0, len(ids))
	for i, id := range ids {
		m := cs[i].wave.Val()
		// if Redis had expired the wave the API returns an empty map
		if len(m) == 0 {
			continue
		}
		w, err := toWave(id, m)
		if err != nil {
			clog.WithError(err).WithField(cst.LogFieldWaveID, id).Error("error unmarshalling wave data")
			return nil, se.NewServiceFailure(errMsg).WithCause(err)
		}
		w.Viewers = md.NewIDSet(cs[i].viewers.Val()...)
		w.ViewCount = uint64(len(w.Viewers))
		w.Reactors = md.NewIDSet(cs[i].reactors.Val()...)
		ws = append(ws, *w)
	}
	return ws, nil
}

func toWave(id string, m map[string]string) (*md.Wave, error) {
	w := &md.Wave{
		ID:              id,
		AuthorID:        m[fieldNameAuthorID],
		Kind:            md.Kind(m[fieldNameKind]),
		MediaURL:        m[fieldNameMediaURL],
		TextContent:     m[fieldNameTextContent],
		BackgroundColor: m[fieldNameBackgroundColor],
	}
	if c, ok := m[fieldNameCaption]; ok {
		w.Caption = &c
	}
	createdAt, err := strconv.ParseInt(m[fieldNameCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad creation time: %w", err)
	}
	expiresAt, err := strconv.ParseInt(m[fieldNameExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad expiry: %w", err)
	}
	w.CreatedAt = time.UnixMilli(createdAt).UTC()
	w.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return w, nil
}

// redact strips the ids of other users from the viewer and reactor sets of a wave shown to
// someone other than its author.
func redact(w md.Wave, userID string) md.Wave {
	if w.AuthorID == userID {
		return w
	}
	viewers, reactors := md.IDSet{}, md.IDSet{}
	if w.ViewedBy(userID) {
		viewers[userID] = struct{}{}
	}
	if w.ReactedBy(userID) {
		reactors[userID] = struct{}{}
	}
	w.Viewers, w.Reactors = viewers, reactors
	return w
}

func waveKey(waveID string) string {
	return fmt.Sprintf(keyTmplWave, waveID)
}

func authorWavesKey(authorID string) string {
	return fmt.Sprintf(keyTmplAuthorWaves, authorID)
}

func viewersKey(waveID string) string {
	return fmt.Sprintf(keyTmplViewers, waveID)
}

func reactorsKey(waveID string) string {
	return fmt.Sprintf(keyTmplReactors, waveID)
}

// Package constants vends constants used in various components of wave service, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// common
	EnvVerbose = "WAVE_VERBOSE"
	// stores
	EnvRedisHost         = "REDIS_HOST"
	EnvRedisPort         = "REDIS_PORT"
	EnvRedisPasswd       = "REDIS_PASSWD"
	EnvRedisDB           = "REDIS_DB"
	EnvAllyCacheSize     = "WAVE_ALLY_CACHE_SIZE"
	EnvAllyCacheEntryTTL = "WAVE_ALLY_CACHE_EXPIRY"
	EnvViewerDBPath      = "WAVE_VIEWER_DB"
	// servers
	EnvWriterAddr     = "WAVE_WRITER_ADDR"
	EnvReaderAddr     = "WAVE_READER_ADDR"
	EnvSessionSecret  = "WAVE_SESSION_SECRET"
	EnvRateLimitRPS   = "WAVE_RATE_LIMIT_RPS"
	EnvRateLimitBurst = "WAVE_RATE_LIMIT_BURST"
	EnvReqBodySizeMax = "WAVE_REQ_BODY_SIZE_MAX_BYTE"
	// client
	EnvAPIWriterURL     = "WAVE_API_WRITER_URL"
	EnvAPIReaderURL     = "WAVE_API_READER_URL"
	EnvAPISessionCookie = "WAVE_API_SESSION_COOKIE"
	EnvAPITimeout       = "WAVE_API_TIMEOUT"
	// viewer
	EnvViewerID        = "WAVE_VIEWER_ID"
	EnvRefreshInterval = "WAVE_REFRESH_INTERVAL"
	EnvVideoFallback   = "WAVE_VIDEO_FALLBACK"

	// -------------- identity --------------
	SessionName      = "wave-session"
	SessionKeyUserID = "userID"
	ContextKeyUserID = "waveUserID"

	// -------------- log fields --------------
	LogFieldFuncName  = "funcName"
	LogFieldWaveID    = "waveID"
	LogFieldViewerID  = "viewerID"
	LogFieldAuthorID  = "authorID"
	LogFieldSessionID = "sessionID"
)

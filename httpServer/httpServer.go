package httpServer

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"llhls/internal/auth"
	"llhls/internal/dump"
	"llhls/internal/metrics"
	"llhls/internal/registry"
	"llhls/internal/stream"
	"llhls/pkg/models"
)

// blockingReloadTimeout bounds how long a chunklist/master request
// holds the connection open waiting for a part or segment that hasn't
// been produced yet (§9's blocking reload).
const blockingReloadTimeout = 10 * time.Second

var (
	initRe      = regexp.MustCompile(`^init_(\d+)_[a-z]+_[0-9a-f]+_llhls\.m4s$`)
	segRe       = regexp.MustCompile(`^seg_(\d+)_(\d+)_[a-z]+_[0-9a-f]+_llhls\.m4s$`)
	partRe      = regexp.MustCompile(`^part_(\d+)_(\d+)_(\d+)_[a-z]+_[0-9a-f]+_llhls\.m4s$`)
	chunklistRe = regexp.MustCompile(`^chunklist_(\d+)_[a-z]+_[0-9a-f]+_llhls\.m3u8$`)
)

// Server wraps the HTTP egress surface: master/chunklist/init/segment/
// chunk retrieval, plus the publish-token and stream-admin API.
type Server struct {
	router         *gin.Engine
	registry       *registry.Registry
	authManager    *auth.Manager
	metrics        *metrics.Metrics
	rtmpIngestAddr string
}

// New creates the HTTP server.
func New(reg *registry.Registry, authManager *auth.Manager, m *metrics.Metrics, rtmpIngestAddr string) *Server {
	s := &Server{
		registry:       reg,
		authManager:    authManager,
		metrics:        m,
		rtmpIngestAddr: rtmpIngestAddr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := gin.Default()
	if s.metrics != nil {
		router.Use(s.metricsMiddleware())
	}

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.POST("/v1/publish", s.handlePublish)
		api.GET("/v1/streams", s.handleListStreams)
		api.GET("/v1/streams/:app/:name", s.handleGetStream)
		api.POST("/v1/streams/:app/:name/stop", s.handleStopStream)
		api.POST("/v1/streams/:app/:name/dumps", s.handleStartDump)
		api.DELETE("/v1/streams/:app/:name/dumps/:id", s.handleStopDump)
	}
	if s.metrics != nil {
		router.GET("/metrics", s.metrics.Handler())
	}

	router.GET("/live/:app/:name/*file", s.handleArtifact)

	s.router = router
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong", "time": time.Now().Unix()})
}

func (s *Server) handlePublish(c *gin.Context) {
	var req models.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ExpiresIn == 0 {
		req.ExpiresIn = 3600
	}

	clientIP := c.ClientIP()
	token, err := s.authManager.GeneratePublishToken(req.StreamKey, req.ExpiresIn, clientIP)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	publishURL := fmt.Sprintf("%s/%s?token=%s", s.rtmpIngestAddr, req.StreamKey, token.Token)
	c.JSON(http.StatusOK, models.PublishResponse{
		PublishURL: publishURL,
		StreamKey:  req.StreamKey,
		Token:      token.Token,
		ExpiresAt:  token.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleListStreams(c *gin.Context) {
	entries := s.registry.List()
	infos := make([]models.StreamInfo, len(entries))
	for i, e := range entries {
		infos[i] = entryToInfo(e)
	}
	c.JSON(http.StatusOK, models.StreamListResponse{Streams: infos, Total: len(infos)})
}

func (s *Server) handleGetStream(c *gin.Context) {
	e, ok := s.registry.Get(c.Param("app"), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	c.JSON(http.StatusOK, entryToInfo(e))
}

func (s *Server) handleStopStream(c *gin.Context) {
	app, name := c.Param("app"), c.Param("name")
	if _, ok := s.registry.Get(app, name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	s.registry.Remove(app, name)
	c.JSON(http.StatusOK, gin.H{"message": "stream stopped", "app": app, "name": name})
}

// handleStartDump implements the start_dump admin operation (§4.7,
// §6 "Per-dump" configuration options): a runtime dump bound after
// the stream is already live. A reused id or info_file_url is
// rejected with 409 per §7 "Duplicate".
func (s *Server) handleStartDump(c *gin.Context) {
	e, ok := s.registry.Get(c.Param("app"), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	var cfg models.DumpConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg.Enabled = true

	if err := e.Dumps.Start(cfg, true); err != nil {
		if errors.Is(err, dump.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate dump id or info_file_url"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "dump started", "id": cfg.ID})
}

// handleStopDump implements stop_dump, releasing the dump's retention
// hold on the stream's sliding window (§4.7, §9).
func (s *Server) handleStopDump(c *gin.Context) {
	e, ok := s.registry.Get(c.Param("app"), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	e.Dumps.Stop(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"message": "dump stopped", "id": c.Param("id")})
}

func entryToInfo(e *registry.Entry) models.StreamInfo {
	info := models.StreamInfo{
		StreamKey: e.Stream.StreamKey(),
		Active:    e.Stream.State() == stream.Started,
		State:     e.Stream.State().String(),
	}
	for _, t := range e.Stream.Tracks() {
		switch t.MediaType {
		case models.Video:
			info.VideoCodec = t.CodecID.String()
			info.Bitrate += t.Bitrate
			if t.Width > 0 && t.Height > 0 {
				info.Resolution = fmt.Sprintf("%dx%d", t.Width, t.Height)
			}
		case models.Audio:
			info.AudioCodec = t.CodecID.String()
			info.Bitrate += t.Bitrate
		}
	}
	return info
}

// handleArtifact dispatches a request under /live/:app/:name/ to the
// master playlist, a track chunklist, an init segment, a closed
// segment, or a chunk, based on the trailing filename's prefix (§4.6's
// artifact naming).
func (s *Server) handleArtifact(c *gin.Context) {
	app, name := c.Param("app"), c.Param("name")
	file := strings.TrimPrefix(c.Param("file"), "/")

	e, ok := s.registry.Get(app, name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	switch {
	case file == "master.m3u8":
		s.serveMaster(c, e)
	case chunklistRe.MatchString(file):
		s.serveChunklist(c, e, file)
	case initRe.MatchString(file):
		s.serveInit(c, e, file)
	case partRe.MatchString(file):
		s.servePart(c, e, file)
	case segRe.MatchString(file):
		s.serveSegment(c, e, file)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unrecognized artifact name"})
	}
}

func (s *Server) serveMaster(c *gin.Context, e *registry.Entry) {
	gzipOut := acceptsGzip(c)
	legacy := c.Query("legacy") != ""
	res, data := s.blockingFetch(e, func() (models.RequestResult, []byte) {
		return e.Stream.GetMasterPlaylist("default", c.Request.URL.RawQuery, gzipOut, legacy, true)
	})
	writePlaylistResponse(c, res, data, gzipOut, time.Hour)
}

func (s *Server) serveChunklist(c *gin.Context, e *registry.Entry, file string) {
	trackID := mustTrackID(chunklistRe, file)
	msn := queryInt64(c, "_HLS_msn", -1)
	psn := queryInt64(c, "_HLS_part", -1)
	skip := c.Query("_HLS_skip") == "YES"
	gzipOut := acceptsGzip(c)
	legacy := c.Query("legacy") != ""

	res, data := s.blockingFetch(e, func() (models.RequestResult, []byte) {
		return e.Stream.GetChunklist(c.Request.URL.RawQuery, trackID, msn, psn, skip, gzipOut, legacy)
	})
	writePlaylistResponse(c, res, data, gzipOut, 0)
}

func (s *Server) serveInit(c *gin.Context, e *registry.Entry, file string) {
	trackID := mustTrackID(initRe, file)
	res, data := e.Stream.GetInitializationSegment(trackID)
	writeSegmentResponse(c, res, data, time.Hour)
}

func (s *Server) serveSegment(c *gin.Context, e *registry.Entry, file string) {
	m := segRe.FindStringSubmatch(file)
	trackID := parseInt32(m[1])
	n := parseInt64(m[2])
	res, data := e.Stream.GetSegment(trackID, n)
	writeSegmentResponse(c, res, data, time.Minute)
}

func (s *Server) servePart(c *gin.Context, e *registry.Entry, file string) {
	m := partRe.FindStringSubmatch(file)
	trackID := parseInt32(m[1])
	n := parseInt64(m[2])
	k := parseInt64(m[3])

	res, data := s.blockingFetch(e, func() (models.RequestResult, []byte) {
		return e.Stream.GetChunk(trackID, n, k)
	})
	writeSegmentResponse(c, res, data, 0)
}

// blockingFetch implements the blocking-reload discipline shared by
// chunklist, master playlist, and chunk retrieval (§9): on Accepted,
// it waits for the next PlaylistUpdated event (or blockingReloadTimeout)
// and retries, returning whatever the final retry produces.
func (s *Server) blockingFetch(e *registry.Entry, fetch func() (models.RequestResult, []byte)) (models.RequestResult, []byte) {
	res, data := fetch()
	if res != models.Accepted {
		return res, data
	}

	ch, cancel := e.Stream.Subscribe(8)
	defer cancel()

	deadline := time.NewTimer(blockingReloadTimeout)
	defer deadline.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return fetch()
			}
			res, data = fetch()
			if res != models.Accepted {
				return res, data
			}
		case <-deadline.C:
			return fetch()
		}
	}
}

func writePlaylistResponse(c *gin.Context, res models.RequestResult, data []byte, gzipOut bool, cacheFor time.Duration) {
	switch res {
	case models.Success:
		c.Header("Cache-Control", cacheControl(cacheFor))
		c.Header("Access-Control-Allow-Origin", "*")
		if gzipOut {
			c.Header("Content-Encoding", "gzip")
		}
		c.Data(http.StatusOK, "application/vnd.apple.mpegurl", data)
	case models.Accepted:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not yet available"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

func writeSegmentResponse(c *gin.Context, res models.RequestResult, data []byte, cacheFor time.Duration) {
	switch res {
	case models.Success:
		c.Header("Cache-Control", cacheControl(cacheFor))
		c.Header("Access-Control-Allow-Origin", "*")
		c.Data(http.StatusOK, "video/mp4", data)
	case models.Accepted:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not yet available"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

func cacheControl(d time.Duration) string {
	if d <= 0 {
		return "no-cache, no-store, must-revalidate"
	}
	return fmt.Sprintf("public, max-age=%d", int(d.Seconds()))
}

func acceptsGzip(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept-Encoding"), "gzip")
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustTrackID(re *regexp.Regexp, file string) int32 {
	m := re.FindStringSubmatch(file)
	return parseInt32(m[1])
}

func parseInt32(s string) int32 {
	n, _ := strconv.ParseInt(s, 10, 32)
	return int32(n)
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

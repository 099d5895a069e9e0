package rtmp

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"

	"llhls/internal/auth"
	"llhls/internal/metrics"
	"llhls/internal/muxer"
	"llhls/internal/registry"
	"llhls/internal/stream"
	"llhls/pkg/models"
)

// trackStartGrace bounds how long OnPublish waits for both an audio and
// a video sequence header to arrive before starting the stream with
// whatever tracks showed up (an audio-only or video-only publish).
const trackStartGrace = 1500 * time.Millisecond

// aacFrameSamples is the fixed AAC frame size RTMP/FLV delivers one
// tag per, used to derive Duration in the audio track's timebase.
const aacFrameSamples = 1024

// videoTimebaseDen matches the millisecond granularity of FLV
// timestamps, so DTS/Duration need no scaling going into the packager.
const videoTimebaseDen = 1000

// Server is the RTMP ingest adapter. It terminates publisher
// connections and feeds decoded samples into the stream registry.
type Server struct {
	addr         string
	registry     *registry.Registry
	authManager  *auth.Manager
	streamConfig stream.Config
	metrics      *metrics.Metrics
	server       *rtmp.Server
}

// New creates an RTMP ingest server bound to reg. streamConfig is
// applied to every stream this server creates on publish.
func New(addr string, reg *registry.Registry, authManager *auth.Manager, streamConfig stream.Config) *Server {
	s := &Server{
		addr:         addr,
		registry:     reg,
		authManager:  authManager,
		streamConfig: streamConfig,
	}
	s.server = rtmp.NewServer(&rtmp.ServerConfig{
		OnConnect: s.onConnect,
	})
	return s
}

// SetMetrics installs m; subsequent connections record RTMP ingest
// counters through it. Safe to leave unset.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// ListenAndServe starts the RTMP server.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	log.Printf("RTMP server listening on %s", s.addr)
	return s.server.Serve(listener)
}

// Close gracefully shuts down the RTMP server.
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) onConnect(conn net.Conn) (io.ReadWriteCloser, *rtmp.ConnConfig) {
	log.Printf("New RTMP connection from %s", conn.RemoteAddr())
	if s.metrics != nil {
		s.metrics.RecordRTMPConnection()
	}

	handler := &ConnHandler{
		registry:     s.registry,
		authManager:  s.authManager,
		streamConfig: s.streamConfig,
		metrics:      s.metrics,
		conn:         conn,
	}

	return conn, &rtmp.ConnConfig{
		Handler: handler,
		ControlState: rtmp.StreamControlStateConfig{
			DefaultBandwidthWindowSize: 6 * 1024 * 1024,
		},
	}
}

// ConnHandler handles one RTMP publisher connection's lifecycle and
// feeds its samples into the registry entry it creates on OnPublish.
type ConnHandler struct {
	rtmp.DefaultHandler

	registry     *registry.Registry
	authManager  *auth.Manager
	streamConfig stream.Config
	metrics      *metrics.Metrics
	conn         net.Conn

	mu        sync.Mutex
	app       string
	name      string
	entry     *registry.Entry
	started   bool
	haveVideo bool
	haveAudio bool

	videoTrackID  int32
	audioTrackID  int32
	sps, pps      [][]byte
	firstVideoDTS int64
	firstAudioDTS int64
	haveFirstV    bool
	haveFirstA    bool

	audioSampleRate int

	// RTMP timestamps mark a frame's start, not its duration. pendingVideo
	// holds the most recent video frame until the next one arrives, so its
	// duration can be derived from the delta between the two timestamps.
	pendingVideo *models.MediaPacket
}

func (h *ConnHandler) OnServe(conn *rtmp.Conn) {}

func (h *ConnHandler) OnConnect(timestamp uint32, cmd *rtmpmsg.NetConnectionConnect) error {
	h.mu.Lock()
	h.app = cmd.Command.App
	h.mu.Unlock()
	return nil
}

func (h *ConnHandler) OnCreateStream(timestamp uint32, cmd *rtmpmsg.NetConnectionCreateStream) error {
	return nil
}

// OnPublish creates the registry entry for this publish. Track
// metadata isn't known yet; AddTrack happens lazily as sequence
// headers arrive in OnAudio/OnVideo, and Start fires once both have
// arrived or trackStartGrace elapses, whichever is first.
func (h *ConnHandler) OnPublish(ctx *rtmp.StreamContext, timestamp uint32, cmd *rtmpmsg.NetStreamPublish) error {
	streamKey, token := parseStreamKeyAndToken(cmd.PublishingName)

	if token != "" {
		clientIP := h.conn.RemoteAddr().String()
		if err := h.authManager.ValidateToken(token, streamKey, clientIP); err != nil {
			if h.metrics != nil {
				h.metrics.RecordRTMPError()
			}
			return fmt.Errorf("authentication failed: %w", err)
		}
		h.authManager.MarkTokenUsed(token)
	}

	h.mu.Lock()
	h.name = streamKey
	h.videoTrackID = 0
	h.audioTrackID = 1
	entry, err := h.registry.Create(h.conn.LocalAddr().String(), h.app, streamKey, h.streamConfig)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("create stream %s/%s: %w", h.app, streamKey, err)
	}
	h.entry = entry
	h.mu.Unlock()

	time.AfterFunc(trackStartGrace, h.startOnce)

	log.Printf("stream %s/%s is now live from %s", h.app, streamKey, h.conn.RemoteAddr())
	return nil
}

func (h *ConnHandler) OnSetDataFrame(timestamp uint32, data *rtmpmsg.NetStreamSetDataFrame) error {
	return nil
}

// OnAudio decodes FLV AAC audio tags: the sequence header becomes an
// audio track declaration, subsequent tags become MediaPackets.
func (h *ConnHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	h.mu.Lock()
	entry := h.entry
	h.mu.Unlock()
	if entry == nil {
		return nil
	}

	buf := make([]byte, 65536)
	n, err := payload.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	if n == 0 {
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordRTMPBytes(uint64(n))
	}

	isAAC, isSeqHeader, audioData, err := muxer.ParseFLVAudioPacket(buf[:n])
	if err != nil || !isAAC {
		return nil
	}

	if isSeqHeader {
		cfg, err := muxer.ParseAudioSpecificConfig(audioData)
		if err != nil {
			log.Printf("stream %s/%s: bad AudioSpecificConfig: %v", h.app, h.name, err)
			return nil
		}
		track := &models.Track{
			TrackID:    h.audioTrackID,
			Name:       "audio",
			MediaType:  models.Audio,
			CodecID:    models.CodecAAC,
			Timebase:   models.Timebase{Num: 1, Den: uint32(cfg.SampleRate)},
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}
		if err := entry.Stream.AddTrack(track, nil); err != nil {
			log.Printf("stream %s/%s: add audio track: %v", h.app, h.name, err)
			return nil
		}
		h.mu.Lock()
		h.audioSampleRate = cfg.SampleRate
		h.haveAudio = true
		h.mu.Unlock()
		h.maybeStart()
		return nil
	}

	h.mu.Lock()
	if !h.haveFirstA {
		h.firstAudioDTS = int64(timestamp)
		h.haveFirstA = true
	}
	sampleRate := h.audioSampleRate
	dts := (int64(timestamp) - h.firstAudioDTS) * int64(sampleRate) / 1000
	h.mu.Unlock()

	// AAC frames carry a fixed 1024 samples regardless of timestamp
	// granularity; the track timebase is the sample rate, so duration
	// in timebase units is just the frame size.
	entry.Stream.SendAudioFrame(&models.MediaPacket{
		TrackID:    h.audioTrackID,
		MediaType:  models.Audio,
		PacketType: models.PacketAudio,
		DTS:        dts,
		PTS:        dts,
		Duration:   aacFrameSamples,
		Flags:      models.SampleFlags{KeyFrame: true, Independent: true},
		Payload:    audioData,
	})
	if h.metrics != nil {
		h.metrics.RecordFrame(h.name, false, len(audioData))
	}
	return nil
}

// OnVideo decodes FLV AVC video tags: the sequence header parses
// SPS/PPS into a video track declaration, subsequent tags become
// Annex-B MediaPackets with SPS/PPS prepended ahead of key frames.
func (h *ConnHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	h.mu.Lock()
	entry := h.entry
	h.mu.Unlock()
	if entry == nil {
		return nil
	}

	buf := make([]byte, 1<<20)
	n, err := payload.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	if n == 0 {
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordRTMPBytes(uint64(n))
	}

	isSequenceHeader, isKeyFrame, avcData, err := muxer.ParseFLVVideoPacket(buf[:n])
	if err != nil {
		return nil
	}

	if isSequenceHeader {
		avcConfig, err := muxer.ParseAVCDecoderConfigurationRecord(avcData)
		if err != nil {
			log.Printf("stream %s/%s: bad AVCDecoderConfigurationRecord: %v", h.app, h.name, err)
			return nil
		}

		h.mu.Lock()
		h.sps = avcConfig.SPS
		h.pps = avcConfig.PPS
		h.mu.Unlock()

		extradata := muxer.PrependSPSPPSAnnexB(nil, avcConfig.SPS, avcConfig.PPS)
		track := &models.Track{
			TrackID:   h.videoTrackID,
			Name:      "video",
			MediaType: models.Video,
			CodecID:   models.CodecH264,
			Timebase:  models.Timebase{Num: 1, Den: videoTimebaseDen},
			Extradata: extradata,
		}
		if err := entry.Stream.AddTrack(track, nil); err != nil {
			log.Printf("stream %s/%s: add video track: %v", h.app, h.name, err)
			return nil
		}
		h.mu.Lock()
		h.haveVideo = true
		h.mu.Unlock()
		h.maybeStart()
		return nil
	}

	annexBData, err := muxer.ConvertAVCCToAnnexB(avcData)
	if err != nil {
		annexBData = avcData
	}

	h.mu.Lock()
	sps, pps := h.sps, h.pps
	if !h.haveFirstV {
		h.firstVideoDTS = int64(timestamp)
		h.haveFirstV = true
	}
	dts := int64(timestamp) - h.firstVideoDTS
	h.mu.Unlock()

	frameData := annexBData
	if isKeyFrame && len(sps) > 0 && len(pps) > 0 {
		frameData = muxer.PrependSPSPPSAnnexB(annexBData, sps, pps)
	}

	pkt := &models.MediaPacket{
		TrackID:         h.videoTrackID,
		MediaType:       models.Video,
		PacketType:      models.PacketVideo,
		BitstreamFormat: models.BitstreamAnnexB,
		DTS:             dts,
		PTS:             dts,
		Flags:           models.SampleFlags{KeyFrame: isKeyFrame, Independent: isKeyFrame},
		Payload:         frameData,
	}

	h.mu.Lock()
	held := h.pendingVideo
	h.pendingVideo = pkt
	h.mu.Unlock()

	if held != nil {
		held.Duration = pkt.DTS - held.DTS
		entry.Stream.SendVideoFrame(held)
		if h.metrics != nil {
			h.metrics.RecordFrame(h.name, true, len(held.Payload))
			if held.Flags.KeyFrame {
				h.metrics.RecordKeyFrame()
			}
		}
	}
	return nil
}

func (h *ConnHandler) maybeStart() {
	h.mu.Lock()
	ready := h.haveVideo && h.haveAudio
	h.mu.Unlock()
	if ready {
		h.startOnce()
	}
}

func (h *ConnHandler) startOnce() {
	h.mu.Lock()
	if h.started || h.entry == nil {
		h.mu.Unlock()
		return
	}
	h.started = true
	entry := h.entry
	h.mu.Unlock()

	if err := entry.Stream.Start(); err != nil {
		log.Printf("stream %s/%s: start: %v", h.app, h.name, err)
	}
}

func (h *ConnHandler) OnClose() {
	h.mu.Lock()
	app, name, entry, held := h.app, h.name, h.entry, h.pendingVideo
	h.pendingVideo = nil
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordRTMPDisconnect()
	}

	if entry != nil {
		if held != nil {
			// No following frame to derive a delta from; assume a
			// nominal 30 fps frame duration.
			held.Duration = 1000 / 30
			entry.Stream.SendVideoFrame(held)
		}
		log.Printf("stopping stream %s/%s", app, name)
		h.registry.Remove(app, name)
	}
}

func parseStreamKeyAndToken(publishingName string) (streamKey, token string) {
	for i, c := range publishingName {
		if c == '?' {
			streamKey = publishingName[:i]
			query := publishingName[i+1:]
			if len(query) > 6 && query[:6] == "token=" {
				token = query[6:]
			}
			return
		}
	}
	streamKey = publishingName
	return
}

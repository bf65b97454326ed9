package rtc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
)

type codec struct {
	payloadType uint8
	name        string
	clockRate   uint32
	channels    uint16
	fmtp        string
}

// Кодеки в порядке предпочтения
var (
	audioCodecs = []codec{
		{payloadType: 111, name: "opus", clockRate: 48000, channels: 2, fmtp: "minptime=10;useinbandfec=1"},
		{payloadType: 0, name: "PCMU", clockRate: 8000},
		{payloadType: 8, name: "PCMA", clockRate: 8000},
	}
	videoCodecs = []codec{
		{payloadType: 96, name: "VP8", clockRate: 90000},
		{payloadType: 102, name: "H264", clockRate: 90000, fmtp: "level-asymmetry-allowed=1;packetization-mode=1"},
	}
)

// SDPEngine сигнальный движок: формирует и проверяет SDP, но не захватывает
// устройства и не передает медиа. Подходит для сигнальных клиентов,
// автоответчиков и тестовых стендов.
type SDPEngine struct {
	opts Options

	mu        sync.Mutex
	started   bool
	stopped   bool
	sessionID uint64
	version   uint64
	ufrag     string
	pwd       string
	local     string
	remote    string
}

// NewSDPEngine создает движок. Имеет сигнатуру Factory.
func NewSDPEngine(opts Options) Engine {
	if opts.LocalIP == "" {
		opts.LocalIP = "127.0.0.1"
	}
	if opts.UseMic == "" {
		opts.UseMic = DeviceAny
	}
	if opts.UseSpeak == "" {
		opts.UseSpeak = DeviceAny
	}

	id := uuid.New()
	return &SDPEngine{
		opts:      opts,
		sessionID: uint64(id.ID()),
		ufrag:     strings.ReplaceAll(id.String(), "-", "")[:8],
		pwd:       strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// Start помечает движок запущенным
func (e *SDPEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.started = true
	return nil
}

// Stop освобождает движок
func (e *SDPEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.started = false
	e.local = ""
	e.remote = ""
}

// StopPeer сбрасывает согласованные описания, движок остается запущенным
func (e *SDPEngine) StopPeer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = ""
	e.remote = ""
}

// Stopped сообщает, был ли вызван Stop
func (e *SDPEngine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// LocalDescription возвращает последний сформированный SDP
func (e *SDPEngine) LocalDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// RemoteDescription возвращает последний принятый удаленный SDP
func (e *SDPEngine) RemoteDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// CreateOffer формирует offer с аудио и, при UseVideo, видео секцией
func (e *SDPEngine) CreateOffer() (string, error) {
	e.mu.Lock()
	if err := e.ready(); err != nil {
		e.mu.Unlock()
		return "", err
	}

	desc, err := e.newDescription()
	if err != nil {
		e.mu.Unlock()
		return "", err
	}

	audio := e.mediaSection("audio", "0", audioCodecs)
	desc = desc.WithMedia(audio)
	if e.opts.UseVideo {
		desc = desc.WithMedia(e.mediaSection("video", "1", videoCodecs))
	}

	local, err := marshal(desc)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	e.local = local
	e.mu.Unlock()

	e.reportCandidate()
	return local, nil
}

// CreateAnswer формирует answer, повторяя порядок медиа секций offer.
// Секции без общего кодека отклоняются нулевым портом.
func (e *SDPEngine) CreateAnswer(remoteSDP string) (string, error) {
	offer, err := parse(remoteSDP)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	if err := e.ready(); err != nil {
		e.mu.Unlock()
		return "", err
	}

	desc, err := e.newDescription()
	if err != nil {
		e.mu.Unlock()
		return "", err
	}

	for i, remote := range offer.MediaDescriptions {
		mid, ok := remote.Attribute("mid")
		if !ok {
			mid = strconv.Itoa(i)
		}

		var supported []codec
		switch remote.MediaName.Media {
		case "audio":
			supported = matchCodecs(remote, audioCodecs)
		case "video":
			supported = matchCodecs(remote, videoCodecs)
		}

		if len(supported) == 0 {
			desc = desc.WithMedia(&sdp.MediaDescription{
				MediaName: sdp.MediaName{
					Media:   remote.MediaName.Media,
					Port:    sdp.RangedPort{Value: 0},
					Protos:  remote.MediaName.Protos,
					Formats: remote.MediaName.Formats,
				},
			})
			continue
		}
		desc = desc.WithMedia(e.mediaSection(remote.MediaName.Media, mid, supported[:1]))
	}

	local, err := marshal(desc)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	e.local = local
	e.remote = remoteSDP
	e.mu.Unlock()

	e.reportCandidate()
	return local, nil
}

// AcceptAnswer проверяет и сохраняет удаленный SDP
func (e *SDPEngine) AcceptAnswer(remoteSDP string) error {
	answer, err := parse(remoteSDP)
	if err != nil {
		return err
	}
	if len(answer.MediaDescriptions) == 0 {
		return ErrNoMedia
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}
	e.remote = remoteSDP
	return nil
}

func (e *SDPEngine) ready() error {
	if e.stopped {
		return ErrEngineStopped
	}
	if !e.started {
		return ErrEngineNotStarted
	}
	return nil
}

func (e *SDPEngine) newDescription() (*sdp.SessionDescription, error) {
	desc, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания базового SDP: %w", err)
	}

	e.version++
	desc.Origin = sdp.Origin{
		Username:       "-",
		SessionID:      e.sessionID,
		SessionVersion: e.version,
		NetworkType:    "IN",
		AddressType:    "IP4",
		UnicastAddress: e.opts.LocalIP,
	}
	desc.SessionName = "verto_phone"
	return desc, nil
}

func (e *SDPEngine) mediaSection(kind, mid string, codecs []codec) *sdp.MediaDescription {
	media := sdp.NewJSEPMediaDescription(kind, []string{})
	media.ConnectionInformation = &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &sdp.Address{Address: e.opts.LocalIP},
	}

	for _, c := range codecs {
		fmtp := c.fmtp
		if c.name == "opus" && e.opts.UseStereo {
			fmtp += ";stereo=1;sprop-stereo=1"
		}
		media = media.WithCodec(c.payloadType, c.name, c.clockRate, c.channels, fmtp)
	}

	media = media.
		WithValueAttribute("mid", mid).
		WithICECredentials(e.ufrag, e.pwd).
		WithCandidate(e.hostCandidate()).
		WithPropertyAttribute(direction(kind, e.opts)).
		WithPropertyAttribute("rtcp-mux")
	return media
}

func direction(kind string, opts Options) string {
	if kind == "audio" && opts.UseMic == DeviceNone {
		if opts.UseSpeak == DeviceNone {
			return "inactive"
		}
		return "recvonly"
	}
	if kind == "video" && opts.UseCamera == DeviceNone && !opts.ScreenShare {
		return "recvonly"
	}
	return "sendrecv"
}

func (e *SDPEngine) hostCandidate() string {
	return fmt.Sprintf("1 1 udp 2130706431 %s 9 typ host", e.opts.LocalIP)
}

func (e *SDPEngine) reportCandidate() {
	if e.opts.Events.OnCandidate != nil {
		e.opts.Events.OnCandidate(e.hostCandidate())
	}
}

// matchCodecs возвращает кодеки из supported, которые есть в rtpmap секции,
// с payload type удаленной стороны
func matchCodecs(remote *sdp.MediaDescription, supported []codec) []codec {
	offered := make(map[string]uint8)
	for _, attr := range remote.Attributes {
		if attr.Key != "rtpmap" {
			continue
		}
		fields := strings.Fields(attr.Value)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil {
			continue
		}
		name := strings.ToLower(strings.SplitN(fields[1], "/", 2)[0])
		if _, exists := offered[name]; !exists {
			offered[name] = uint8(pt)
		}
	}

	var out []codec
	for _, c := range supported {
		if pt, ok := offered[strings.ToLower(c.name)]; ok {
			c.payloadType = pt
			out = append(out, c)
		}
	}
	return out
}

func parse(raw string) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("rtc: некорректный SDP: %w", err)
	}
	return desc, nil
}

func marshal(desc *sdp.SessionDescription) (string, error) {
	data, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("rtc: ошибка сериализации SDP: %w", err)
	}
	return string(data), nil
}

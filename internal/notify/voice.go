package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const voiceEndpoint = "https://dyvmsapi.aliyuncs.com/"

// VoiceConfig holds the Aliyun VMS credentials and TTS template.
type VoiceConfig struct {
	AccessKeyID      string
	AccessKeySecret  string
	TTSCode          string
	CalledShowNumber string
}

// Voice places a TTS call announcing the batch summary via Aliyun VMS.
type Voice struct {
	cfg      VoiceConfig
	client   *http.Client
	logger   *zap.Logger
	endpoint string
	now      func() time.Time
}

// NewVoice builds the channel.
func NewVoice(cfg VoiceConfig, logger *zap.Logger) *Voice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Voice{
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: voiceEndpoint,
		now:      time.Now,
	}
}

// Name implements monitor.Channel.
func (v *Voice) Name() string { return "voice" }

// Send places the call. Contacts without a phone number are skipped.
func (v *Voice) Send(ctx context.Context, contact monitor.Contact, records []monitor.StoredRecord) error {
	if contact.Phone == "" {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}

	ttsParam, err := json.Marshal(map[string]string{
		"count":  strconv.Itoa(len(records)),
		"source": summarySource(records),
	})
	if err != nil {
		return fmt.Errorf("marshal tts param: %w", err)
	}

	params := aliyunCommonParams(v.cfg.AccessKeyID, v.now())
	params["Action"] = "SingleCallByTts"
	params["CalledNumber"] = contact.Phone
	params["TtsCode"] = v.cfg.TTSCode
	params["TtsParam"] = string(ttsParam)
	if v.cfg.CalledShowNumber != "" {
		params["CalledShowNumber"] = v.cfg.CalledShowNumber
	}
	params["Signature"] = aliyunSign(v.cfg.AccessKeySecret, http.MethodGet, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		v.endpoint+"?"+encodeValues(params).Encode(), nil)
	if err != nil {
		return fmt.Errorf("build voice request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("place voice call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode voice response: %w", err)
	}
	if result.Code != "OK" {
		return fmt.Errorf("voice call rejected: %s (%s)", result.Code, result.Message)
	}
	v.logger.Info("voice call placed", zap.String("contact", contact.Name))
	return nil
}

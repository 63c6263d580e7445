package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const smsEndpoint = "https://dysmsapi.aliyuncs.com/"

// SMSConfig holds the Aliyun Dysms credentials and template.
type SMSConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	SignName        string
	TemplateCode    string
}

// SMS sends a summary text ("N new records from SOURCE") via Aliyun Dysms.
type SMS struct {
	cfg      SMSConfig
	client   *http.Client
	logger   *zap.Logger
	endpoint string
	now      func() time.Time
}

// NewSMS builds the channel.
func NewSMS(cfg SMSConfig, logger *zap.Logger) *SMS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMS{
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		endpoint: smsEndpoint,
		now:      time.Now,
	}
}

// Name implements monitor.Channel.
func (s *SMS) Name() string { return "sms" }

// Send delivers a summary SMS. Contacts without a phone number are skipped.
func (s *SMS) Send(ctx context.Context, contact monitor.Contact, records []monitor.StoredRecord) error {
	if contact.Phone == "" {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}

	templateParam, err := json.Marshal(map[string]string{
		"count":  strconv.Itoa(len(records)),
		"source": summarySource(records),
	})
	if err != nil {
		return fmt.Errorf("marshal template param: %w", err)
	}

	params := aliyunCommonParams(s.cfg.AccessKeyID, s.now())
	params["Action"] = "SendSms"
	params["PhoneNumbers"] = contact.Phone
	params["SignName"] = s.cfg.SignName
	params["TemplateCode"] = s.cfg.TemplateCode
	params["TemplateParam"] = string(templateParam)
	params["Signature"] = aliyunSign(s.cfg.AccessKeySecret, http.MethodPost, params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint,
		strings.NewReader(encodeValues(params).Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode sms response: %w", err)
	}
	if result.Code != "OK" {
		return fmt.Errorf("sms rejected: %s (%s)", result.Code, result.Message)
	}
	s.logger.Info("sms sent", zap.String("contact", contact.Name))
	return nil
}

// summarySource names the dominant source of the batch.
func summarySource(records []monitor.StoredRecord) string {
	if len(records) == 0 {
		return ""
	}
	first := records[0].Source
	for _, r := range records[1:] {
		if r.Source != first {
			return "多个来源"
		}
	}
	return first
}

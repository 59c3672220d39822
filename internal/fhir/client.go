// Package fhir は患者情報をFHIRサーバーへミラーするクライアントを提供する。
// ミラーはベストエフォートであり、失敗しても患者登録は失敗させない。
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/hcegateway/internal/model"
)

// defaultTimeout はミラー呼び出し1回あたりのタイムアウト。
const defaultTimeout = 10 * time.Second

// Identifier はFHIRのIdentifier要素。
type Identifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// HumanName はFHIRのHumanName要素。
type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// ContactPoint はFHIRのContactPoint要素。
type ContactPoint struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// Patient はミラー対象のFHIR Patientリソース。
type Patient struct {
	ResourceType string         `json:"resourceType"`
	Identifier   []Identifier   `json:"identifier,omitempty"`
	Name         []HumanName    `json:"name,omitempty"`
	Telecom      []ContactPoint `json:"telecom,omitempty"`
}

// PatientFromRecord はpacientesレコードからFHIR Patientを組み立てる。
func PatientFromRecord(rec model.Record) Patient {
	p := Patient{ResourceType: "Patient"}

	if cedula := rec.String("cedula"); cedula != "" {
		p.Identifier = append(p.Identifier, Identifier{System: "cedula", Value: cedula})
	}

	name := HumanName{
		Family: rec.String("apellidos"),
		Given:  strings.Fields(rec.String("nombres")),
	}
	if name.Family != "" || len(name.Given) > 0 {
		p.Name = append(p.Name, name)
	}

	if email := rec.String("email"); email != "" {
		p.Telecom = append(p.Telecom, ContactPoint{System: "email", Value: email})
	}
	if phone := rec.String("telefono"); phone != "" {
		p.Telecom = append(p.Telecom, ContactPoint{System: "phone", Value: phone})
	}

	return p
}

// Client はFHIRサーバーのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合、ミラーは無効となる。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    defaultTimeout,
	}
}

// Enabled はミラー先が設定されているかを返す。
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// MirrorPatient は患者レコードをFHIR Patientとして POST {base}/Patient する。
// 無効時は何もしない。
func (c *Client) MirrorPatient(ctx context.Context, rec model.Record) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(PatientFromRecord(rec))
	if err != nil {
		return fmt.Errorf("failed to encode FHIR patient: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Patient", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create FHIR request: %w", err)
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("FHIR server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("FHIR server returned status %d", resp.StatusCode)
	}

	c.logger.Info("patient mirrored to FHIR server",
		slog.String("cedula", rec.String("cedula")),
	)
	return nil
}

// Package receipt runs uploaded fuel receipt photos through OCR, geocodes
// the station address, and records the resulting fuel fills.
package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/cartracker-data/cartracker/internal/httputil"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// extractionPrompt asks the model for exactly one JSON object so the
// response can be parsed without scraping prose.
const extractionPrompt = "Extract data from this fuel receipt. Return ONLY a JSON object with fields: " +
	"ts (ISO datetime), liters (number), price_per_l (number), amount_fuel (number), " +
	"amount_total (number), station_name (string), station_zip (string), station_city (string), " +
	"station_address (string). If a field cannot be extracted, use null. " +
	"Do not include any text before or after the JSON."

// Parsed holds the fields extracted from one receipt. Every field is
// optional; the OCR model returns null for anything it cannot read.
type Parsed struct {
	TS             *string  `json:"ts"`
	Liters         *float64 `json:"liters"`
	PricePerL      *float64 `json:"price_per_l"`
	AmountFuel     *float64 `json:"amount_fuel"`
	AmountTotal    *float64 `json:"amount_total"`
	StationName    *string  `json:"station_name"`
	StationZip     *string  `json:"station_zip"`
	StationCity    *string  `json:"station_city"`
	StationAddress *string  `json:"station_address"`
}

// Address joins the station address parts into the query string used for
// geocoding, skipping unset parts.
func (p *Parsed) Address() string {
	var parts []string
	for _, s := range []*string{p.StationAddress, p.StationZip, p.StationCity} {
		if s != nil && *s != "" {
			parts = append(parts, *s)
		}
	}
	return strings.Join(parts, " ")
}

// ErrMissingAPIKey is returned when no Gemini API key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY missing")

// jsonObject matches the first JSON object in the model's response text,
// tolerating markdown fences or prose around it.
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// OCRClient extracts receipt fields via the Gemini generateContent API.
type OCRClient struct {
	http  httputil.HTTPClient
	key   string
	model string
	base  string
}

// NewOCRClient creates an OCR client. An empty model defaults to
// gemini-1.5-flash.
func NewOCRClient(hc httputil.HTTPClient, key, model string) *OCRClient {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &OCRClient{http: hc, key: key, model: model, base: geminiBaseURL}
}

type geminiRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generation_config"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// ParseReceipt reads the photo at path, sends it for OCR and returns the
// extracted fields. It fails when the API key is unset, the API call
// errors, no JSON object can be found in the response, or both the
// timestamp and total amount are missing.
func (c *OCRClient) ParseReceipt(path string) (*Parsed, error) {
	if c.key == "" {
		return nil, ErrMissingAPIKey
	}

	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt photo: %w", err)
	}

	mimeType := "image/jpeg"
	if strings.HasSuffix(strings.ToLower(path), ".png") {
		mimeType = "image/png"
	}

	var reqBody geminiRequest
	reqBody.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	reqBody.Contents[0].Parts = []geminiPart{
		{Text: extractionPrompt},
		{InlineData: &geminiInlineData{
			MimeType: mimeType,
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
	}
	reqBody.GenerationConfig.Temperature = 0.1

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.base, c.model, c.key)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini API error: %d %s", resp.StatusCode, body)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("no content in gemini response")
	}

	content := gr.Candidates[0].Content.Parts[0].Text
	match := jsonObject.FindString(content)
	if match == "" {
		return nil, errors.New("no JSON found in gemini response")
	}

	var parsed Parsed
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse receipt JSON: %w", err)
	}

	if parsed.TS == nil && parsed.AmountTotal == nil {
		return nil, errors.New("critical fields missing from receipt")
	}

	return &parsed, nil
}

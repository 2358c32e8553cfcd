package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultEndpoint = "https://api.cognitive.microsofttranslator.com"
	DefaultTimeout  = 5 * time.Second
)

// AzureClient talks to the Azure Translator text API (v3.0).
type AzureClient struct {
	Endpoint   string
	Key        string
	Region     string
	HTTPClient *http.Client

	logger *log.Logger
}

func NewAzureClient(key, region string, logger *log.Logger) *AzureClient {
	return &AzureClient{
		Endpoint:   DefaultEndpoint,
		Key:        key,
		Region:     region,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
}

type azureTranslateRequest struct {
	Text string `json:"Text"`
}

type azureTranslateResponse struct {
	Translations []struct {
		Text string `json:"text"`
		To   string `json:"to"`
	} `json:"translations"`
}

func (c *AzureClient) Translate(
	ctx context.Context,
	text, sourceLang, targetLang string,
) (string, error) {
	body, err := json.Marshal([]azureTranslateRequest{{Text: text}})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	q := url.Values{}
	q.Set("api-version", "3.0")
	q.Set("from", sourceLang)
	q.Set("to", targetLang)
	endpoint := fmt.Sprintf("%s/translate?%s", c.Endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req.Header.Set("Ocp-Apim-Subscription-Key", c.Key)
	if c.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.Region)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Error("translator backend error",
			"status", resp.StatusCode, "body", string(respBody))
		return "", fmt.Errorf(
			"%w: unexpected status code: %d",
			ErrUnavailable, resp.StatusCode,
		)
	}

	var results []azureTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if len(results) == 0 || len(results[0].Translations) == 0 {
		return "", fmt.Errorf("%w: empty translation response", ErrUnavailable)
	}

	return results[0].Translations[0].Text, nil
}

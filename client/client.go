package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/a-h/jsonapi"
	"github.com/a-h/labreport/models"
)

func New(baseURL, apiKey string) Client {
	return Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type Client struct {
	baseURL string
	apiKey  string
}

// GeneratePost uploads a manual with its observations and returns the report.
func (c Client) GeneratePost(ctx context.Context, manualName string, manual io.Reader, observations string) (resp models.GeneratePostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("generate").String()
	if err != nil {
		return resp, err
	}
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile(models.GenerateFieldManualFile, manualName)
	if err != nil {
		return resp, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err = io.Copy(fw, manual); err != nil {
		return resp, fmt.Errorf("failed to read manual: %w", err)
	}
	if err = mw.WriteField(models.GenerateFieldObservations, observations); err != nil {
		return resp, fmt.Errorf("failed to write observations: %w", err)
	}
	if err = mw.Close(); err != nil {
		return resp, fmt.Errorf("failed to close form: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return resp, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	res, err := jsonapi.Raw(httpReq,
		jsonapi.WithRequestHeader("Authorization", "Bearer "+c.apiKey),
		jsonapi.WithRequestHeader("Content-Type", mw.FormDataContentType()))
	err = readJSON(res, err, &resp)
	return resp, err
}

func (c Client) Health(ctx context.Context) (resp models.HealthResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("healthz").String()
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resp, fmt.Errorf("failed to create request: %w", err)
	}
	res, err := jsonapi.Raw(httpReq, jsonapi.WithRequestHeader("Authorization", "Bearer "+c.apiKey))
	err = readJSON(res, err, &resp)
	return resp, err
}

func readJSON(res *http.Response, err error, v any) error {
	if err != nil {
		return fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		return jsonapi.InvalidStatusError{
			Status: res.StatusCode,
			Body:   string(body),
		}
	}
	if err = json.NewDecoder(res.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

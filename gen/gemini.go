package gen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"script2video-pipeline/config"
	"script2video-pipeline/ratelimit"
)

// The Gemini and Veo backends talk to the Google Generative Language API
// directly over HTTP. Veo is a long-running-operation API: submit the job,
// poll the operation until done, then download the produced file.

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	veoPollDelay  = 2 * time.Second
)

type geminiClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *ratelimit.RateLimiter
	log        zerolog.Logger
}

func newGeminiClient(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger, backend string) (*geminiClient, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	return &geminiClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    geminiBaseURL,
		apiKey:     key,
		model:      cfg.Model,
		limiter:    limiter,
		log:        log.With().Str("backend", backend).Logger(),
	}, nil
}

func (c *geminiClient) post(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)
	return c.do(req, out)
}

func (c *geminiClient) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	return c.do(req, out)
}

func (c *geminiClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: HTTP 429 from %s", ErrRateLimited, req.URL.Host)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, req.URL.Host, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

func imageParts(referenceImagePaths []string) ([]contentPart, error) {
	var parts []contentPart
	for _, path := range referenceImagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read reference image %s: %w", path, err)
		}
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: "image/png",
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}
	return parts, nil
}

// --- text ---

type geminiText struct{ *geminiClient }

func newGeminiText(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (*geminiText, error) {
	c, err := newGeminiClient(cfg, limiter, log, "gemini")
	if err != nil {
		return nil, err
	}
	return &geminiText{c}, nil
}

type generateContentRequest struct {
	SystemInstruction *struct {
		Parts []contentPart `json:"parts"`
	} `json:"system_instruction,omitempty"`
	Contents []struct {
		Parts []contentPart `json:"parts"`
	} `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ImageConfig        *struct {
		AspectRatio string `json:"aspectRatio"`
	} `json:"imageConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *geminiText) Complete(ctx context.Context, system, user string) (string, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	reqBody := generateContentRequest{}
	if system != "" {
		reqBody.SystemInstruction = &struct {
			Parts []contentPart `json:"parts"`
		}{Parts: []contentPart{{Text: system}}}
	}
	reqBody.Contents = []struct {
		Parts []contentPart `json:"parts"`
	}{{Parts: []contentPart{{Text: user}}}}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	var resp generateContentResponse
	err := withBackoff(ctx, g.log, func() error {
		return g.post(ctx, url, reqBody, &resp)
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}

// --- image ---

type geminiImage struct{ *geminiClient }

func newGeminiImage(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (*geminiImage, error) {
	c, err := newGeminiClient(cfg, limiter, log, "gemini-image")
	if err != nil {
		return nil, err
	}
	return &geminiImage{c}, nil
}

func (g *geminiImage) Generate(ctx context.Context, prompt string, referenceImagePaths []string, aspectRatio string) (*ImageArtifact, error) {
	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	parts, err := imageParts(referenceImagePaths)
	if err != nil {
		return nil, err
	}
	parts = append(parts, contentPart{Text: prompt})

	reqBody := generateContentRequest{
		Contents: []struct {
			Parts []contentPart `json:"parts"`
		}{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig: &struct {
				AspectRatio string `json:"aspectRatio"`
			}{AspectRatio: aspectRatio},
		},
	}

	g.log.Info().Str("model", g.model).Int("references", len(referenceImagePaths)).Msg("generating image")

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	var resp generateContentResponse
	err = withBackoff(ctx, g.log, func() error {
		return g.post(ctx, url, reqBody, &resp)
	})
	if err != nil {
		return nil, err
	}

	var responseText string
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("decode image data: %w", err)
				}
				return &ImageArtifact{Data: data, Ext: "png"}, nil
			}
			responseText += part.Text
		}
	}
	return nil, fmt.Errorf("no image generated, response text: %s", truncate(responseText, 200))
}

// --- video ---

type veoVideo struct{ *geminiClient }

func newVeoVideo(cfg config.ServiceConfig, limiter *ratelimit.RateLimiter, log zerolog.Logger) (*veoVideo, error) {
	c, err := newGeminiClient(cfg, limiter, log, "veo")
	if err != nil {
		return nil, err
	}
	return &veoVideo{c}, nil
}

type veoInstance struct {
	Prompt    string      `json:"prompt"`
	Image     *inlineData `json:"image,omitempty"`
	LastFrame *inlineData `json:"lastFrame,omitempty"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (g *veoVideo) Generate(ctx context.Context, prompt string, referenceImagePaths []string) (*VideoArtifact, error) {
	if len(referenceImagePaths) > 2 {
		return nil, fmt.Errorf("at most 2 reference frames supported, got %d", len(referenceImagePaths))
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	instance := veoInstance{Prompt: prompt}
	frames, err := imageParts(referenceImagePaths)
	if err != nil {
		return nil, err
	}
	if len(frames) >= 1 {
		instance.Image = frames[0].InlineData
	}
	if len(frames) == 2 {
		instance.LastFrame = frames[1].InlineData
	}

	g.log.Info().Str("model", g.model).Int("references", len(referenceImagePaths)).Msg("generating video")

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", g.baseURL, g.model)
	var op veoOperation
	err = withBackoff(ctx, g.log, func() error {
		return g.post(ctx, url, map[string]interface{}{
			"instances": []veoInstance{instance},
		}, &op)
	})
	if err != nil {
		return nil, err
	}

	for !op.Done {
		timer := time.NewTimer(veoPollDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		if err := g.get(ctx, fmt.Sprintf("%s/%s", g.baseURL, op.Name), &op); err != nil {
			return nil, fmt.Errorf("poll video operation: %w", err)
		}
	}

	if op.Error != nil {
		return nil, fmt.Errorf("video generation failed: %s", op.Error.Message)
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return nil, fmt.Errorf("video generation completed but no videos were generated")
	}

	data, err := g.download(ctx, op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI)
	if err != nil {
		return nil, err
	}
	return &VideoArtifact{Data: data, Ext: "mp4"}, nil
}

func (g *veoVideo) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download video: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Package metadata produces release assets for a finished video: thumbnail
// images, candidate headlines and the upload description.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"script2video-pipeline/config"
	"script2video-pipeline/gen"
	"script2video-pipeline/store"
	"script2video-pipeline/types"
)

const thumbnailSystemPrompt = `You are a video marketing designer. Given a script summary, propose thumbnail
concepts that maximize click-through without misrepresenting the content.

Respond with ONLY valid JSON: an array of concepts, each:
{
  "idx": 0,
  "image_prompt": "detailed prompt for the thumbnail image, high contrast, readable at small sizes",
  "rationale": "one sentence on why this concept works"
}`

const headlineSystemPrompt = `You are a video marketing copywriter. Given a script summary, write headline
variants: punchy, honest, under 70 characters each.

Respond with ONLY valid JSON: an array of strings.`

// ThumbnailConcept is one proposed thumbnail: the prompt that renders it and
// the reasoning kept for review.
type ThumbnailConcept struct {
	Idx         int    `json:"idx"`
	ImagePrompt string `json:"image_prompt"`
	Rationale   string `json:"rationale"`
	ImagePath   string `json:"image_path"`
}

// Generator produces thumbnails and headlines after the final video exists.
type Generator struct {
	cfg    config.MetadataConfig
	style  string
	text   gen.TextGenerator
	images gen.ImageGenerator
	ws     *store.Workspace
	log    zerolog.Logger
}

func New(cfg config.MetadataConfig, style string, text gen.TextGenerator, images gen.ImageGenerator, ws *store.Workspace, log zerolog.Logger) *Generator {
	return &Generator{cfg: cfg, style: style, text: text, images: images, ws: ws, log: log}
}

// Run generates whichever release assets the config enables. Both paths are
// memoized on their artifact files.
func (g *Generator) Run(ctx context.Context, script string, briefs []types.ShotBriefDescription) error {
	if g.cfg.GenerateThumbnails {
		if err := g.generateThumbnails(ctx, script, briefs); err != nil {
			return fmt.Errorf("thumbnails: %w", err)
		}
	}
	if g.cfg.GenerateHeadlines {
		if err := g.generateHeadlines(ctx, script); err != nil {
			return fmt.Errorf("headlines: %w", err)
		}
	}
	if g.cfg.GenerateDescription {
		if err := g.exportDescription(briefs); err != nil {
			return fmt.Errorf("description: %w", err)
		}
	}
	return nil
}

func (g *Generator) generateThumbnails(ctx context.Context, script string, briefs []types.ShotBriefDescription) error {
	path := g.ws.ThumbnailsPath()
	var concepts []ThumbnailConcept
	if g.ws.Done(path) {
		if err := g.ws.LoadJSON(path, &concepts); err != nil {
			return err
		}
		g.log.Info().Int("concepts", len(concepts)).Msg("loaded thumbnail concepts from existing file")
	} else {
		completion, err := g.text.Complete(ctx, thumbnailSystemPrompt, g.summaryPrompt(script, briefs, g.cfg.ThumbnailCount))
		if err != nil {
			return err
		}
		if err := gen.DecodeJSON(completion, &concepts); err != nil {
			return err
		}
		if len(concepts) > g.cfg.ThumbnailCount {
			concepts = concepts[:g.cfg.ThumbnailCount]
		}
		for i := range concepts {
			concepts[i].Idx = i
			concepts[i].ImagePath = g.ws.ThumbnailImagePath(i)
		}
		if err := g.ws.SaveJSON(path, concepts); err != nil {
			return err
		}
	}

	g.log.Info().Int("concepts", len(concepts)).Msg("rendering thumbnails")
	var eg errgroup.Group
	for _, c := range concepts {
		c := c
		eg.Go(func() error {
			if g.ws.Done(c.ImagePath) {
				return nil
			}
			prompt := c.ImagePrompt
			if g.style != "" {
				prompt += "\nOverall style: " + g.style
			}
			img, err := g.images.Generate(ctx, prompt, nil, "16:9")
			if err != nil {
				return fmt.Errorf("thumbnail %d: %w", c.Idx, err)
			}
			return g.ws.WriteArtifact(c.ImagePath, img.Data)
		})
	}
	return eg.Wait()
}

func (g *Generator) generateHeadlines(ctx context.Context, script string) error {
	path := g.ws.TitlesPath()
	if g.ws.Done(path) {
		g.log.Info().Msg("skipped headline generation, already exists")
		return nil
	}

	user := fmt.Sprintf("Write %d headline variants for a video of this script:\n\n%s", g.cfg.HeadlineCount, script)
	completion, err := g.text.Complete(ctx, headlineSystemPrompt, user)
	if err != nil {
		return err
	}
	var headlines []string
	if err := gen.DecodeJSON(completion, &headlines); err != nil {
		return err
	}
	if len(headlines) == 0 {
		return fmt.Errorf("model returned no headlines")
	}
	if len(headlines) > g.cfg.HeadlineCount {
		headlines = headlines[:g.cfg.HeadlineCount]
	}
	if err := g.ws.SaveJSON(path, headlines); err != nil {
		return err
	}
	g.log.Info().Int("headlines", len(headlines)).Msg("generated headlines")
	return nil
}

// exportDescription assembles the upload description from artifacts already
// on disk: alternative title ideas when headlines were generated, plus the
// shot rundown. No model call; the text is deterministic given the run.
func (g *Generator) exportDescription(briefs []types.ShotBriefDescription) error {
	path := g.ws.DescriptionPath()
	if g.ws.Done(path) {
		g.log.Info().Msg("skipped description export, already exists")
		return nil
	}

	var sb strings.Builder
	if g.ws.Done(g.ws.TitlesPath()) {
		var headlines []string
		if err := g.ws.LoadJSON(g.ws.TitlesPath(), &headlines); err != nil {
			return err
		}
		if len(headlines) > 3 {
			headlines = headlines[:3]
		}
		sb.WriteString("Alternative title ideas for testing:\n")
		for _, h := range headlines {
			sb.WriteString("  - " + h + "\n")
		}
		sb.WriteString("\n")
	}
	if len(briefs) > 0 {
		sb.WriteString("In this video:\n")
		for _, b := range briefs {
			sb.WriteString(fmt.Sprintf("%d. %s\n", b.Idx+1, b.Purpose))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("If you enjoyed this video, please like and subscribe for more content!\n")
	sb.WriteString("\nTurn on notifications to never miss an upload!\n")

	if err := g.ws.WriteArtifact(path, []byte(sb.String())); err != nil {
		return err
	}
	g.log.Info().Str("path", path).Msg("exported upload description")
	return nil
}

func (g *Generator) summaryPrompt(script string, briefs []types.ShotBriefDescription, count int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Propose %d thumbnail concepts.\n\nScript:\n%s\n", count, script))
	if len(briefs) > 0 {
		sb.WriteString("\nShot list:\n")
		for _, b := range briefs {
			sb.WriteString(fmt.Sprintf("- %s\n", b.VisualIdea))
		}
	}
	return sb.String()
}

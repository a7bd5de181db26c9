// Package task is the document-level layer above the page pipeline: it
// classifies failures, retries whole documents under progressively lighter
// profiles, supervises wall-clock timeouts, and manages a queue of files.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration for conversions. Zero values are
// replaced by defaults on load.
type Config struct {
	// OutputDir receives converted files. Empty means next to the input.
	OutputDir string `yaml:"output_dir"`
	// OutputSuffix is appended to the input stem for the output filename.
	OutputSuffix string `yaml:"output_suffix"`

	Languages []string `yaml:"languages"`
	DPI       int      `yaml:"dpi"`
	// MinConfidence is the recognition confidence floor for embedded text.
	MinConfidence float64 `yaml:"min_confidence"`

	// Workers is the OCR worker process count. Zero auto-detects.
	Workers int `yaml:"workers"`
	// GPU hints that recognition runs on a GPU, which forces one worker.
	GPU bool `yaml:"gpu"`

	SkipExistingText  bool    `yaml:"skip_existing_text"`
	AllowFallbackCopy bool    `yaml:"allow_fallback_copy"`
	BlankThreshold    float64 `yaml:"blank_threshold"`
	PageRetryLimit    int     `yaml:"page_retry_limit"`
	SaveInterval      int     `yaml:"save_interval"`

	// MaxAttempts bounds whole-document attempts, the first included.
	MaxAttempts int `yaml:"max_attempts"`
	// DocumentTimeout bounds one attempt's wall-clock time.
	DocumentTimeout time.Duration `yaml:"document_timeout"`

	// CheckpointDir and LogDir default to ~/.pdfocr subdirectories.
	CheckpointDir string `yaml:"checkpoint_dir"`
	LogDir        string `yaml:"log_dir"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		OutputSuffix:      "_ocr",
		Languages:         []string{"eng"},
		DPI:               300,
		MinConfidence:     0.5,
		SkipExistingText:  true,
		AllowFallbackCopy: true,
		BlankThreshold:    0.5,
		PageRetryLimit:    2,
		SaveInterval:      10,
		MaxAttempts:       3,
		DocumentTimeout:   30 * time.Minute,
	}
}

// LoadConfig reads a YAML configuration file, filling unset fields with
// defaults. A missing path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.OutputSuffix == "" {
		c.OutputSuffix = def.OutputSuffix
	}
	if len(c.Languages) == 0 {
		c.Languages = def.Languages
	}
	if c.DPI <= 0 {
		c.DPI = def.DPI
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.PageRetryLimit < 0 {
		c.PageRetryLimit = def.PageRetryLimit
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = def.SaveInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.DocumentTimeout <= 0 {
		c.DocumentTimeout = def.DocumentTimeout
	}
	return c
}

// OutputPathFor derives the output filename for an input: same directory
// (or OutputDir) with the suffix appended to the stem.
func (c Config) OutputPathFor(inputPath string) string {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = ".pdf"
	}
	return filepath.Join(dir, stem+c.OutputSuffix+ext)
}

package flags

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	v1 "github.com/propwise/chatsync/pkg/apis/config/v1"
	"github.com/propwise/chatsync/pkg/voiceflow"
)

// VoiceflowFlags holds configuration for the transcript API and the sync
// pass tunables.
type VoiceflowFlags struct {
	APIKey    string
	BaseURL   string
	ProjectID string
	Tag       string

	PageSize          int
	MaxPages          int
	FetchConcurrency  int
	IngestConcurrency int
}

func NewVoiceflowFlags() *VoiceflowFlags {
	return &VoiceflowFlags{
		APIKey:            os.Getenv("VOICEFLOW_API_KEY"),
		BaseURL:           voiceflow.DefaultBaseURL,
		PageSize:          100,
		MaxPages:          500,
		FetchConcurrency:  10,
		IngestConcurrency: 4,
	}
}

func (f *VoiceflowFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.BaseURL, "voiceflow-url", f.BaseURL, "Base URL of the transcript API")
	fs.StringVar(&f.ProjectID, "voiceflow-project", f.ProjectID, "Voiceflow project to sync transcripts from")
	fs.StringVar(&f.Tag, "voiceflow-tag", f.Tag, "Optional report tag to filter the transcript listing (environment scoping)")
	fs.IntVar(&f.PageSize, "page-size", f.PageSize, "Transcript listing page size")
	fs.IntVar(&f.MaxPages, "max-pages", f.MaxPages, "Safety cap on listing pages per pass")
	fs.IntVar(&f.FetchConcurrency, "fetch-concurrency", f.FetchConcurrency, "Concurrent transcript body fetches")
	fs.IntVar(&f.IngestConcurrency, "ingest-concurrency", f.IngestConcurrency, "Concurrent transcript ingestions (each holds a db transaction)")
}

// ApplyConfig fills in values the flags left at their defaults from the
// config file. Explicit flags win over the file.
func (f *VoiceflowFlags) ApplyConfig(config v1.VoiceflowConfig) {
	if config.URL != "" && f.BaseURL == voiceflow.DefaultBaseURL {
		f.BaseURL = config.URL
	}
	if config.Tag != "" && f.Tag == "" {
		f.Tag = config.Tag
	}
}

// GetClient builds the API client. A missing key or project is a fatal
// configuration error: the pass aborts before anything is fetched.
func (f *VoiceflowFlags) GetClient() (*voiceflow.Client, error) {
	if f.APIKey == "" {
		return nil, fmt.Errorf("no Voiceflow API key configured, set VOICEFLOW_API_KEY")
	}
	if f.ProjectID == "" {
		return nil, fmt.Errorf("--voiceflow-project is required")
	}

	return voiceflow.NewClient(f.BaseURL, f.APIKey, f.ProjectID), nil
}

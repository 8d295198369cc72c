package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath      string
	SourcesFile string
	KeysDir     string
	OutputDir   string

	// HTTP
	Port         string
	BaseURL      string
	APIAccessKey string
	UserAgent    string
	Timeout      time.Duration

	// Batch scheduling for serve
	Interval time.Duration

	// Web push
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}

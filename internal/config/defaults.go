package config

const (
	defaultDataDir    = "~/.local/share/sentinel"
	defaultLogDir     = "~/.local/share/sentinel/logs"
	defaultSocketPath = "~/.local/share/sentinel/sentineld.sock"

	defaultLocationInterval      = 7
	defaultPhotoInterval         = 8
	defaultTranscriptionInterval = 30
	defaultTranscriptionWindow   = 30
	defaultDeviceTimeout         = 10

	defaultUploadRequestTimeout   = 30
	defaultUploadPollInterval     = 15
	defaultUploadConnectivityHost = "1.1.1.1:443"

	defaultAuthTokenPath      = "~/.config/sentinel/credential.jwt"
	defaultAuthRequestTimeout = 5

	defaultNtfyRequestTimeout = 10

	defaultStopDrainTimeout  = 10
	defaultSweepInterval     = 300
	defaultCompressOlderThan = 86400
	defaultStorageLowMB      = 512

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// DefaultDistressKeywords is the keyword set used when none is configured.
// Matching is substring containment, so short terms deliberately over-match
// ("helper" matches "help") to favor recall.
var DefaultDistressKeywords = []string{
	"help",
	"emergency",
	"danger",
	"scared",
	"hurt",
	"call police",
	"911",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
		},
		Capture: Capture{
			LocationInterval:      defaultLocationInterval,
			PhotoInterval:         defaultPhotoInterval,
			TranscriptionInterval: defaultTranscriptionInterval,
			TranscriptionWindow:   defaultTranscriptionWindow,
			DeviceTimeout:         defaultDeviceTimeout,
		},
		Distress: Distress{
			Keywords: append([]string{}, DefaultDistressKeywords...),
		},
		Upload: Upload{
			Region:           "us-east-1",
			RequestTimeout:   defaultUploadRequestTimeout,
			PollInterval:     defaultUploadPollInterval,
			ConnectivityHost: defaultUploadConnectivityHost,
		},
		Auth: Auth{
			TokenPath:      defaultAuthTokenPath,
			RequestTimeout: defaultAuthRequestTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Workflow: Workflow{
			StopDrainTimeout:   defaultStopDrainTimeout,
			SweepInterval:      defaultSweepInterval,
			CompressOlderThan:  defaultCompressOlderThan,
			StorageLowMegabyte: defaultStorageLowMB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

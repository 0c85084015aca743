package logging

import "time"

// Config selects sinks and queue sizing for the router.
type Config struct {
	EnabledSinks     []string       `json:"enabledSinks"`
	BufferSize       int            `json:"bufferSize"`
	MinimumSeverity  Severity       `json:"minimumSeverity"`
	Fields           map[string]any `json:"fields,omitempty"`
	JSON             JSONConfig     `json:"json"`
	DropWarnInterval time.Duration  `json:"dropWarnInterval"`
}

// JSONConfig configures the newline-delimited JSON sink.
type JSONConfig struct {
	FilePath      string        `json:"filePath,omitempty"`
	FlushInterval time.Duration `json:"flushInterval"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       256,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) cloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}

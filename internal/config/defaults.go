package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Capture: CaptureConfig{
			ListenPath:         "/messages",
			PageWaitSeconds:    4,
			WaitTimeoutSeconds: 15,
			Retries:            2,
			RetryDelayMillis:   1000,
		},
		Browser: BrowserConfig{
			ProfileDir:             "~/.msgwatch/chrome-profile",
			Headless:               true,
			NavigateTimeoutSeconds: 30,
		},
		Schedule: ScheduleConfig{
			PollMinutes:      10,
			RunOnStart:       true,
			HeartbeatSeconds: 60,
		},
		Extract: ExtractConfig{
			SuffixSingleEmbed: true,
		},
		Store: StoreConfig{
			Driver:     "postgrest",
			Table:      "a_dis",
			Policy:     "insert",
			SQLitePath: "~/.msgwatch/messages.db",
		},
		Targets: TargetsConfig{
			Sheet: "Sheet1",
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

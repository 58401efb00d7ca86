package config

const (
	// TopicIndexBuild is the NSQ topic carrying external index build triggers.
	TopicIndexBuild = "index.build"

	// TopicIndexResult is the NSQ topic for finished build summaries.
	TopicIndexResult = "index.result"
)

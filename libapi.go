package transitboard

import (
	runtimepkg "github.com/drblury/transitboard/internal/runtime"
	configpkg "github.com/drblury/transitboard/internal/runtime/config"
	decodepkg "github.com/drblury/transitboard/internal/runtime/decode"
	errspkg "github.com/drblury/transitboard/internal/runtime/errors"
	gatepkg "github.com/drblury/transitboard/internal/runtime/gate"
	idspkg "github.com/drblury/transitboard/internal/runtime/ids"
	jsoncodec "github.com/drblury/transitboard/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/transitboard/internal/runtime/logging"
	metadatapkg "github.com/drblury/transitboard/internal/runtime/metadata"
	"github.com/drblury/transitboard/internal/runtime/stream"
	"github.com/drblury/transitboard/internal/runtime/views"
	"github.com/drblury/transitboard/transport"
)

type (
	Config              = configpkg.Config
	BindingConfig       = configpkg.BindingConfig
	Topics              = configpkg.Topics
	Duration            = configpkg.Duration
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	State               = runtimepkg.State

	Binding      = runtimepkg.Binding
	BindingInfo  = runtimepkg.BindingInfo
	BindingStats = runtimepkg.BindingStats
	RecordError  = runtimepkg.RecordError

	// Record lifecycle hooks
	RecordContext = runtimepkg.RecordContext
	RecordHooks   = runtimepkg.RecordHooks

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Record        = stream.Record
	Processor     = stream.Processor
	ProcessorFunc = stream.ProcessorFunc
	OffsetPolicy  = stream.OffsetPolicy
	Format        = stream.Format

	Requirement       = gatepkg.Requirement
	Checker           = gatepkg.Checker
	MissingTopicError = gatepkg.MissingTopicError

	Weather         = views.Weather
	WeatherSnapshot = views.WeatherSnapshot
	Lines           = views.Lines
	LinesTopics     = views.LinesTopics
	LineSnapshot    = views.LineSnapshot
	Station         = views.Station
	Train           = views.Train

	SchemaRegistry = decodepkg.SchemaRegistry
	StaticRegistry = decodepkg.StaticRegistry

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Stream sources
	Source                = transport.Source
	SubscriberSpec        = transport.SubscriberSpec
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	NewBinding     = runtimepkg.NewBinding
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	DefaultBindings     = configpkg.DefaultBindings
	DefaultRequirements = configpkg.DefaultRequirements
	CheckReadiness      = gatepkg.Check

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	IsolationMiddleware     = runtimepkg.IsolationMiddleware
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Record lifecycle hooks
	LoggingHooks = runtimepkg.LoggingHooks
	MetricsHooks = runtimepkg.MetricsHooks

	NewWeather = views.NewWeather
	NewLines   = views.NewLines

	NewSchemaRegistry = decodepkg.NewSchemaRegistry

	// Use RegisterTransport and BuildTransport to work with the source packages.
	// Import individual sources via: _ "github.com/drblury/transitboard/transport/kafka"
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrProcessorRequired  = errspkg.ErrProcessorRequired
	ErrBindingNameMissing = errspkg.ErrBindingNameMissing
	ErrBindingSourceEmpty = errspkg.ErrBindingSourceEmpty
	ErrUnknownModel       = errspkg.ErrUnknownModel
	ErrAlreadyStarted     = errspkg.ErrAlreadyStarted
	ErrEmptyPayload       = errspkg.ErrEmptyPayload
	ErrNotReady           = gatepkg.ErrNotReady
	ErrMalformedRecord    = views.ErrMalformedRecord
	ErrUnrecognizedRecord = views.ErrUnrecognizedRecord

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewJSONSlogLogger         = loggingpkg.NewJSONSlogLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Lifecycle states reported by Service.State.
const (
	StateUnstarted    = runtimepkg.StateUnstarted
	StateGating       = runtimepkg.StateGating
	StateRunning      = runtimepkg.StateRunning
	StateShuttingDown = runtimepkg.StateShuttingDown
	StateStopped      = runtimepkg.StateStopped
	StateFailed       = runtimepkg.StateFailed
)

// Binding options.
const (
	OffsetEarliest = stream.OffsetEarliest
	OffsetLatest   = stream.OffsetLatest

	FormatAvro     = stream.FormatAvro
	FormatJSON     = stream.FormatJSON
	FormatProtobuf = stream.FormatProtobuf

	ModelWeather = configpkg.ModelWeather
	ModelLines   = configpkg.ModelLines
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyTopic         = metadatapkg.KeyTopic
	MetadataKeyRecordKey     = metadatapkg.KeyRecordKey
	MetadataKeyPartition     = metadatapkg.KeyPartition
	MetadataKeyOffset        = metadatapkg.KeyOffset
	MetadataKeyTimestamp     = metadatapkg.KeyTimestamp
)

package envvar

const (
	// MelottsEnv is the environment variable used to determine the environment
	MelottsEnv = "MELOTTS_ENV"

	// MelottsServerHTTPPort is the environment variable used to determine the HTTP port
	MelottsServerHTTPPort = "MELOTTS_SERVER_HTTP_PORT"

	// MelottsServerGRPCPort is the environment variable used to determine the gRPC port
	MelottsServerGRPCPort = "MELOTTS_SERVER_GRPC_PORT"

	// MelottsModelsPath overrides the directory models are downloaded into
	MelottsModelsPath = "MELOTTS_MODELS_PATH"

	// MelottsDevice selects the inference device (auto, cpu, cuda, mps)
	MelottsDevice = "MELOTTS_DEVICE"

	// MelottsEnableUpsampler toggles 24kHz -> 48kHz upsampling of synthesized audio
	MelottsEnableUpsampler = "MELOTTS_ENABLE_UPSAMPLER"
)

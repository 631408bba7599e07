package providerspec

var builtinSpecs = map[string]Spec{
	"openai": {
		Key: "openai",
		API: &APISpec{
			Protocol:           ProtocolOpenAIResponses,
			DefaultBaseURL:     "https://api.openai.com",
			DefaultPath:        "/v1/responses",
			DefaultAPIKeyEnv:   "OPENAI_API_KEY",
			ProviderOptionsKey: "openai",
			ProfileFamily:      "openai",
		},
	},
	"anthropic": {
		Key: "anthropic",
		API: &APISpec{
			Protocol:           ProtocolAnthropicMessages,
			DefaultBaseURL:     "https://api.anthropic.com",
			DefaultPath:        "/v1/messages",
			DefaultAPIKeyEnv:   "ANTHROPIC_API_KEY",
			ProviderOptionsKey: "anthropic",
			ProfileFamily:      "anthropic",
		},
	},
	"google": {
		Key:     "google",
		Aliases: []string{"gemini", "google_ai_studio"},
		API: &APISpec{
			Protocol:           ProtocolGoogleGenerateContent,
			DefaultBaseURL:     "https://generativelanguage.googleapis.com",
			DefaultPath:        "/v1beta/models/{model}:generateContent",
			DefaultAPIKeyEnv:   "GEMINI_API_KEY",
			ProviderOptionsKey: "google",
			ProfileFamily:      "google",
		},
	},
	"kimi": {
		Key:     "kimi",
		Aliases: []string{"moonshot", "moonshotai"},
		API: &APISpec{
			Protocol:           ProtocolAnthropicMessages,
			DefaultBaseURL:     "https://api.kimi.com/coding",
			DefaultPath:        "/v1/messages",
			DefaultAPIKeyEnv:   "KIMI_API_KEY",
			ProviderOptionsKey: "anthropic",
			ProfileFamily:      "openai",
		},
	},
	"zai": {
		Key:     "zai",
		Aliases: []string{"z-ai", "z.ai"},
		API: &APISpec{
			Protocol:           ProtocolOpenAIChatCompletions,
			DefaultBaseURL:     "https://api.z.ai",
			DefaultPath:        "/api/coding/paas/v4/chat/completions",
			DefaultAPIKeyEnv:   "ZAI_API_KEY",
			ProviderOptionsKey: "zai",
			ProfileFamily:      "openai",
		},
	},
}

func Builtin(key string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(key)]
	if !ok {
		return Spec{}, false
	}
	return cloneSpec(s), true
}

func Builtins() map[string]Spec {
	out := make(map[string]Spec, len(builtinSpecs))
	for key, spec := range builtinSpecs {
		out[key] = cloneSpec(spec)
	}
	return out
}

func cloneSpec(in Spec) Spec {
	out := in
	if in.API != nil {
		api := *in.API
		out.API = &api
	}
	out.Aliases = append([]string{}, in.Aliases...)
	return out
}

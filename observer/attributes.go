package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for runtime observability spans and metrics.
var (
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMStatus   = attribute.Key("llm.status")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrAgentName = attribute.Key("agent.name")
	AttrThreadID  = attribute.Key("thread.id")
	AttrNodeID    = attribute.Key("node.id")

	AttrGateDecision = attribute.Key("gate.decision")
	AttrGateReason   = attribute.Key("gate.reason")
	AttrArgsHash     = attribute.Key("gate.args_hash")
)

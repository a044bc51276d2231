package journal

import "os"

// EnvDisabledEventsVar lists journal events to suppress when the node config
// does not set any.
const EnvDisabledEventsVar = "BAZAAR_JOURNAL_DISABLED_EVENTS"

// EnvDisabledEvents returns the disabled events from the environment, or the
// defaults when unset or malformed.
func EnvDisabledEvents() DisabledEvents {
	env, ok := os.LookupEnv(EnvDisabledEventsVar)
	if !ok {
		return DefaultDisabledEvents
	}

	ret, err := ParseDisabledEvents(env)
	if err != nil {
		log.Warnw("ignoring malformed disabled journal events", "env", EnvDisabledEventsVar, "error", err)
		return DefaultDisabledEvents
	}
	return ret
}

package plan

import "strings"

// AssessRisk applies the deterministic risk policy to a step, overriding
// whatever the model claimed. The policy inspects intent and, for commands
// and file operations, the parameters.
func AssessRisk(step Step) Risk {
	params := step.Parameters
	if params == nil {
		params = map[string]any{}
	}

	switch step.Intent {
	case "file_operation":
		action := strings.ToLower(asString(params["action"]))
		switch {
		case strings.HasPrefix(action, "delete"):
			return RiskDestructive
		case action == "read_file" || action == "list_files":
			return RiskSafe
		default:
			return RiskSensitive
		}

	case "press_key", "type_text":
		return RiskSensitive

	case "open_app", "close_app", "open_website", "weather_report",
		"play_media", "chat", "set_timer", "cancel_timer",
		"system_status", "search_web", "fetch_web_content",
		"remember_note":
		return RiskSafe

	case "system_command":
		command := strings.ToLower(asString(params["command"]))
		if command == "" {
			command = strings.ToLower(asString(params["cmd"]))
		}
		markers := []string{
			"rm ", "rm -", "rmdir", "mkfs", "dd ", "shutdown", "reboot",
			"poweroff", "format", "del ", "erase ",
		}
		for _, marker := range markers {
			if strings.Contains(command, marker) {
				return RiskDestructive
			}
		}
		return RiskSensitive
	}

	return RiskSensitive
}

// NeedsConfirmation is deliberately lenient: only destructive steps pause
// for a spoken yes.
func NeedsConfirmation(risk Risk) bool {
	return risk == RiskDestructive
}

package apperr

// Message texts shown when retries were attempted and all of them failed.
const (
	ExhaustedGenerateMessage = "Verbindung zum KI-Dienst fehlgeschlagen (trotz mehrerer Versuche)."
	ExhaustedStreamMessage   = "Verbindung zum KI-Dienst konnte nicht hergestellt werden (Max Retries)."
)

type localized struct {
	message string
	action  string
}

var defaultMessage = localized{
	message: "Ein unbekannter Fehler ist aufgetreten.",
	action:  "Bitte versuche es erneut oder starte die App neu.",
}

var messages = map[Code]localized{
	CodeQuotaExceeded: {
		message: "Dein KI-Guthaben oder Limit ist erschöpft.",
		action:  "Überprüfe dein Billing im Google Cloud Console oder warte bis zum Reset.",
	},
	CodeRateLimited: {
		message: "Zu viele Anfragen in kurzer Zeit (Rate Limit).",
		action:  "Warte einen Moment, bevor du eine neue Anfrage stellst.",
	},
	CodeAuthFailed: {
		message: "Der API-Schlüssel wurde abgelehnt.",
		action:  "Bitte prüfe den API-Key in den Einstellungen.",
	},
	CodeServiceUnavailable: {
		message: "Der KI-Dienst ist momentan überlastet oder nicht erreichbar.",
		action:  "Versuche es in ein paar Sekunden erneut.",
	},
	CodeServiceUnreachable: {
		message: "Netzwerkfehler beim Verbinden zum KI-Dienst.",
		action:  "Prüfe deine Internetverbindung.",
	},
	CodeValidationFailed: {
		message: "Die Antwort hatte ein unerwartetes Format.",
		action:  "Bitte versuche es erneut.",
	},
	CodeAutomationBlocked: {
		message: "Aktion im Demo-Modus blockiert.",
		action:  "Deaktiviere den Demo-Modus in den Einstellungen, um echte Orders auszuführen.",
	},
	CodeAutomationTimeout: {
		message: "Die Automatisierung hat nicht rechtzeitig geantwortet.",
		action:  "Prüfe den Browser und versuche es erneut.",
	},
	CodeConfigLoadFailed: {
		message: "Die Konfiguration konnte nicht geladen werden.",
		action:  "Prüfe die Konfigurationsdatei und starte die App neu.",
	},
}

func messageFor(code Code) localized {
	if m, ok := messages[code]; ok {
		return m
	}
	return defaultMessage
}

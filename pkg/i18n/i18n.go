package i18n

import "strings"

// Internal error strings are terse and lowercase; the catalog maps them to
// the sentences users actually see.
var translations = map[string]string{
	"invalid request":                       "Invalid request.",
	"missing authorization token":           "You need to sign in first.",
	"invalid token":                         "Your session has expired. Please sign in again.",
	"unauthorized":                          "You are not allowed to do that.",
	"not authorized to perform this action": "You are not allowed to do that.",
	"user not found":                        "User not found.",
	"group not found":                       "Group not found!",
	"message not found":                     "Message not found.",
	"file not found":                        "File not found.",
	"wrong password":                        "Wrong group password!",
	"not a member of this group":            "You are not a member of this group.",
	"the group owner cannot be removed":     "The group owner cannot be removed.",
	"email address already exists":          "An account with this email already exists.",
	"invalid email or password":             "Email or password is incorrect.",
	"reset token expired or is invalid":     "This reset link is invalid or has expired.",
	"reset email sent":                      "If that email has an account, a reset link is on its way.",
	"password updated":                      "Your password has been updated. You can sign in now.",
	"account deleted":                       "Your account has been deleted.",
	"group deleted":                         "The group has been deleted.",
	"left group":                            "You have left the group.",
	"member removed":                        "The member has been removed.",
	"member promoted":                       "The member is now an admin.",
	"admin demoted":                         "The admin is now a regular participant.",
	"message approved":                      "The message has been published.",
	"message rejected":                      "The message has been rejected.",
	"message pending":                       "Your message is waiting for an admin to approve it.",
	"saved to personal storage":             "Saved to your personal storage.",
	"file is required":                      "Please choose a file.",
	"file too large":                        "The file is too large.",
	"rate limit exceeded":                   "Too many requests. Please slow down.",
	"rate limiter error":                    "Too many requests. Please slow down.",
	"internal server error":                 "Something went wrong on our side.",
	"not found":                             "Not found.",
	"websocket upgrade failed":              "Could not open a live connection.",
}

var prefixTranslations = map[string]string{
	"invalid input:":             "",
	"failed to hash password:":   "Something went wrong on our side.",
	"failed to sign token:":      "Something went wrong on our side.",
	"failed to parse token:":     "Your session has expired. Please sign in again.",
	"failed to save file:":       "The upload could not be saved.",
	"failed to send mail:":       "The email could not be sent.",
	"unexpected signing method:": "Your session has expired. Please sign in again.",
}

// Translate maps an internal error key to its display sentence. Validation
// errors carry their own human-readable detail, which is surfaced as-is.
func Translate(message string) string {
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			if translated == "" {
				return strings.TrimSpace(strings.TrimPrefix(message, prefix))
			}
			return translated
		}
	}
	return message
}

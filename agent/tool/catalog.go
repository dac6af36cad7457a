package tool

import (
	"github.com/cloudwego/eino/schema"
)

// Catalog describes the tool surface exposed to the language-model layer.
// The descriptions mirror the spoken-agent behavior: confirmations are spoken
// by the tools themselves, so the model is told not to repeat them.
func Catalog() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: "identify_user",
			Desc: "Identify a user by their phone number. Call this once the user provides it.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"phone_number": {Type: schema.String, Desc: "The user's phone number, digits only (e.g. 4155551234)", Required: true},
			}),
		},
		{
			Name: "fetch_slots",
			Desc: "Fetch available appointment slots, optionally for a specific day.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": {Type: schema.String, Desc: "Optional date filter in YYYY-MM-DD format"},
			}),
		},
		{
			Name: "book_appointment",
			Desc: "Book an appointment for the identified user. Call immediately when the user picks a slot; the tool speaks the confirmation.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date":   {Type: schema.String, Desc: "Appointment date in YYYY-MM-DD format", Required: true},
				"time":   {Type: schema.String, Desc: "Appointment time in HH:MM 24-hour format", Required: true},
				"reason": {Type: schema.String, Desc: "Optional reason for the visit"},
			}),
		},
		{
			Name: "retrieve_appointments",
			Desc: "Retrieve the identified user's appointments, optionally filtered by status.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"status": {Type: schema.String, Desc: "Optional filter: booked, cancelled, or modified"},
			}),
		},
		{
			Name: "cancel_appointment",
			Desc: "Cancel a booked appointment. Call immediately once the user indicates which one; the tool speaks the confirmation.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": {Type: schema.String, Desc: "Appointment date in YYYY-MM-DD format", Required: true},
				"time": {Type: schema.String, Desc: "Appointment time in HH:MM 24-hour format", Required: true},
			}),
		},
		{
			Name: "modify_appointment",
			Desc: "Move an existing appointment to a new date and/or time; the tool speaks the confirmation.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"old_date": {Type: schema.String, Desc: "Current appointment date in YYYY-MM-DD format", Required: true},
				"old_time": {Type: schema.String, Desc: "Current appointment time in HH:MM 24-hour format", Required: true},
				"new_date": {Type: schema.String, Desc: "New desired date in YYYY-MM-DD format", Required: true},
				"new_time": {Type: schema.String, Desc: "New desired time in HH:MM 24-hour format", Required: true},
			}),
		},
		{
			Name: "end_conversation",
			Desc: "End the conversation: generates and publishes the call summary, then disconnects. Only call when the user clearly wants to stop.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"confirm": {Type: schema.Boolean, Desc: "Always pass true"},
			}),
		},
	}
}

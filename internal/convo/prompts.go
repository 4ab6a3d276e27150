package convo

import (
	"errors"
	"fmt"
	"strings"

	"intake-bot/internal/repo"
)

const notStarted = "You don't have an active application. Send *start* to begin."

func welcomeMessage(org, displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Welcome to %s!\n\n", org)
	fmt.Fprintf(&b, "Hi %s! To get to know you, I'll collect a few details:\n", name)
	b.WriteString("1. Your full name\n2. Your address\n3. Your phone number\n4. An audio sample\n\n")
	b.WriteString(stepPrompt(repo.StateCollectingName))
	return b.String()
}

// stepPrompt asks for the answer the given state is waiting for.
func stepPrompt(state repo.ConversationState) string {
	switch state {
	case repo.StateCollectingName:
		return "Please send me your *full name*."
	case repo.StateCollectingAddress:
		return "Now please send me your *address*."
	case repo.StateCollectingPhone:
		return "Now please send me your *phone number*."
	case repo.StateCollectingMedia:
		return "Now please send your *audio sample* as a voice note or audio file."
	case repo.StateReadyToSubmit:
		return "Reply *submit* to send your application or *cancel* to discard it."
	default:
		return notStarted
	}
}

func reviewMessage(a repo.Answers) string {
	var b strings.Builder
	b.WriteString("Audio received!\n\n*Your information:*\n")
	fmt.Fprintf(&b, "Name: %s\nAddress: %s\nPhone: %s\n\n", a.Name, a.Address, a.Phone)
	b.WriteString(stepPrompt(repo.StateReadyToSubmit))
	return b.String()
}

func submittedMessage(sub *repo.Submission) string {
	return fmt.Sprintf("Application submitted. Thank you, %s!\n\nApplication ID: #%d\nSubmitted at: %s\n\nOur team will review it and contact you.",
		sub.Name, sub.ID, sub.SubmittedAt.Format("2006-01-02 15:04:05"))
}

const cancelledMessage = "Application cancelled. Send *start* to begin again anytime."

// StatusMessage describes what the conversation is waiting for.
func StatusMessage(state repo.ConversationState) string {
	switch normalizeState(state) {
	case repo.StateIdle:
		return notStarted
	case repo.StateReadyToSubmit:
		return "Ready to submit. " + stepPrompt(repo.StateReadyToSubmit)
	default:
		return "In progress. " + stepPrompt(state)
	}
}

// HelpMessage lists the available commands and the steps of an application.
func HelpMessage(org string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s application help*\n\n", org)
	b.WriteString("*start* - begin (or restart) your application\n")
	b.WriteString("*status* - show what is still missing\n")
	b.WriteString("*submit* - send a completed application\n")
	b.WriteString("*cancel* - discard the current application\n")
	b.WriteString("*help* - show this message\n\n")
	b.WriteString("Provide your name, address and phone number, then send an audio sample. Steps must be completed in order.\n")
	b.WriteString("While answering a question, use */status*, */cancel* and the other commands with a leading slash; a plain word is taken as your answer.")
	return b.String()
}

// ReplyForError returns the guidance text for an error returned by Engine.Handle.
func ReplyForError(err error) string {
	var stepErr *StepError
	state := repo.StateIdle
	if errors.As(err, &stepErr) {
		state = stepErr.State
	}

	switch {
	case errors.Is(err, ErrNotStarted):
		return notStarted
	case errors.Is(err, ErrValidation):
		if state == repo.StateCollectingMedia {
			return "That attachment can't be used. " + stepPrompt(state)
		}
		return "That answer is empty. " + stepPrompt(state)
	case errors.Is(err, ErrWrongStep):
		return "That doesn't fit this step. " + stepPrompt(state)
	case errors.Is(err, ErrUpload):
		return "Sorry, there was an error processing your audio. Please send it again."
	default:
		return "Sorry, something went wrong. Please try again later."
	}
}

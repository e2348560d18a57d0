package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"appforge/internal/clock"
)

const Greeting = "Hi! I'm your AI coding assistant. I can help you build full-stack applications, generate code, debug issues, and answer technical questions. What would you like to create today?"

const ErrorReply = "Sorry, I encountered an error. Please try again."

const (
	DefaultThinkDelay = time.Second
	DefaultCharDelay  = 20 * time.Millisecond
)

const buildReply = "I'll help you build that! Let me analyze your requirements and generate the code structure.\n\n" +
	"Here's what I'll create for you:\n\n" +
	"```typescript\n" +
	"// App.tsx - Main application component\n" +
	"import React from 'react'\n" +
	"import { BrowserRouter as Router, Routes, Route } from 'react-router-dom'\n" +
	"import HomePage from './pages/HomePage'\n" +
	"import Dashboard from './pages/Dashboard'\n\n" +
	"function App() {\n" +
	"  return (\n" +
	"    <Router>\n" +
	"      <div className=\"min-h-screen bg-gray-50\">\n" +
	"        <Routes>\n" +
	"          <Route path=\"/\" element={<HomePage />} />\n" +
	"          <Route path=\"/dashboard\" element={<Dashboard />} />\n" +
	"        </Routes>\n" +
	"      </div>\n" +
	"    </Router>\n" +
	"  )\n" +
	"}\n\n" +
	"export default App\n" +
	"```\n\n" +
	"I'm generating the complete application structure with:\n" +
	"- Modern React with TypeScript\n" +
	"- Responsive design with Tailwind CSS\n" +
	"- Component-based architecture\n" +
	"- Routing setup\n" +
	"- State management\n\n" +
	"Would you like me to add any specific features or modify the structure?"

const debugReply = "I can help you debug that issue! Based on the error, here are the most likely causes and solutions:\n\n" +
	"1. **Check your imports** - Make sure all components are properly imported\n" +
	"2. **Verify prop types** - Ensure you're passing the correct data types\n" +
	"3. **Look for typos** - Check variable names and function calls\n" +
	"4. **Console logs** - Add strategic console.log statements to trace the issue\n\n" +
	"Could you share the specific error message or code snippet you're having trouble with?"

const defaultReply = "I understand you want to %s. I can definitely help with that! \n\n" +
	"Let me break this down into steps:\n" +
	"1. First, I'll analyze your requirements\n" +
	"2. Then I'll design the optimal architecture\n" +
	"3. Finally, I'll generate clean, production-ready code\n\n" +
	"What specific features or technologies would you like me to focus on?"

// Reply is the assistant's answer to one message.
type Reply struct {
	Text               string `json:"text"`
	TriggersGeneration bool   `json:"triggers_generation"`
}

// Assistant answers chat messages with canned replies and streams them back.
type Assistant struct {
	ThinkDelay time.Duration
	CharDelay  time.Duration
}

func New(think, char time.Duration) Assistant {
	return Assistant{ThinkDelay: think, CharDelay: char}
}

func mentions(folded string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}

func (a Assistant) Reply(input string) Reply {
	folded := cases.Fold().String(input)
	var text string
	switch {
	case mentions(folded, "build", "create"):
		text = buildReply
	case mentions(folded, "debug", "error"):
		text = debugReply
	default:
		text = fmt.Sprintf(defaultReply, input)
	}
	return Reply{
		Text:               text,
		TriggersGeneration: strings.Contains(text, "```") || mentions(folded, "build", "create"),
	}
}

// Stream waits ThinkDelay, then calls emit with the text accumulated so far
// after each rune, pausing CharDelay between runes. Once ctx is done emit is
// not called again and ctx.Err is returned.
func (a Assistant) Stream(ctx context.Context, text string, emit func(partial string)) error {
	if err := clock.Sleep(ctx, a.ThinkDelay); err != nil {
		return err
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.WriteRune(r)
		emit(b.String())
		if err := clock.Sleep(ctx, a.CharDelay); err != nil {
			return err
		}
	}
	return nil
}

// Respond computes the reply to input and streams it.
func (a Assistant) Respond(ctx context.Context, input string, emit func(partial string)) (Reply, error) {
	reply := a.Reply(input)
	if err := a.Stream(ctx, reply.Text, emit); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

package rlm

import (
	"fmt"
	"strings"

	"github.com/rlmkit/rlm/internal/types"
)

const systemPromptTemplate = `You are a Recursive Language Model. You are tasked with answering a query over a context that is too large to read at once. You can access, transform, and analyze this context interactively in a code environment that can recursively query sub-LLMs, which you are strongly encouraged to use as much as possible. You will be queried iteratively until you provide a final answer.

Your context is a %s value with %d total characters across %d item(s).

The code environment is initialized with:
1. A 'context' variable that holds the full context. You should inspect it to understand what you are working with; only slices of it that you explicitly extract ever reach a model prompt.
2. A 'llm_query' function for querying an LLM from inside your code. Use it like: llm_query("your question") or llm_query("question", "model-name"). Sub-LLMs can handle around 500K characters, so batch generously.
3. A 'print' function to view intermediate output and continue your reasoning.

Code fragments are sequences of expressions, one per line. 'name = expression' stores a result that persists into your later fragments; use such variables as buffers to build up your final answer. There are no loop statements: use closures over collections instead, for example:

answers = map(chunks, {llm_query("Answer the question for this chunk: " + #)})

Strings support slicing like context[0:10000] and helpers such as len(x), split(s, sep), join(list, sep), concat(a, b), filter, map, sum. The special variables '_stdout' and '_stderr' hold your previous fragment's captured output.

You will only see truncated output from the environment, so route anything you want analyzed through llm_query and keep results in variables. Make sure to explicitly look through the entire context before answering.

When you want to execute code, wrap it in triple backticks with the 'repl' language identifier.

IMPORTANT: When you are done with the iterative process, you MUST provide a final answer with a FINAL directive. You have two options:
1. Use FINAL(your final answer here) to provide the answer directly
2. Use FINAL_VAR(variable_name) to return a variable you created in the environment as your final output

Think step by step carefully, plan, and execute that plan immediately in your response. Output to the environment and recursive LLMs as much as possible.`

const nudgeMessage = "Please continue or provide a FINAL(answer)."

func systemPrompt(kind types.ContextKind, totalChars, items int) string {
	return fmt.Sprintf(systemPromptTemplate, kind, totalChars, items)
}

// queryPrompt is the first user message. The safeguard sentence keeps
// the model from answering before it has looked at the context at all.
func queryPrompt(query string) string {
	return fmt.Sprintf("You have not interacted with the code environment or seen your context yet. Your next action should be to look through it; do not provide a final answer yet.\n\nQuery: %s", query)
}

// observation folds an execution record into the next user message.
func observation(rec *types.ExecutionRecord, names []string) string {
	var b strings.Builder
	b.WriteString("REPL output:\n")
	switch {
	case rec.Stdout != "":
		b.WriteString(rec.Stdout)
	case rec.Stderr == "":
		b.WriteString("No output\n")
	}
	if rec.Stderr != "" {
		b.WriteString("Error: " + rec.Stderr + "\n")
	}
	if len(names) > 0 {
		fmt.Fprintf(&b, "\nREPL variables: %s", strings.Join(names, ", "))
	}
	return b.String()
}

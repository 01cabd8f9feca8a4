package ollama

const plannerSystemPrompt = `You plan the next step of a research assistant.
Respond with exactly one JSON object and nothing else.
Never invent tool names; use only the tools listed in the prompt.`

package extract

// ExtractionPrompt is prepended to each chunk of document text. The backend
// must answer with a bare JSON array; ParseEvents handles fenced output
// anyway because models don't always comply.
const ExtractionPrompt = `Extract timeline events from this legal document text.
Return ONLY a JSON array. Each event must have:
- "date": ISO date string (YYYY-MM-DD), use "unknown" if not found
- "description": brief description of the event
- "involved_parties": list of party names (strings)
- "significance": why this event matters (can be empty string)

Example: [{"date":"2023-06-15","description":"Contract signed","involved_parties":["Acme Corp","Beta Inc"],"significance":"Effective date"}]
Return [] if no events found.

Document text:
`

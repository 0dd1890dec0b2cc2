package perception

// Prompt templates for the extraction operations. The wording encodes the
// engine's data contracts: the five-tier strategic taxonomy, the closed
// relation vocabulary, the subjectivity rule, and the exact JSON shapes the
// parsers expect. Changing a template means re-checking the parser for it.

// structuredMemoryPrompt extracts entities and relations from one chat
// turn. %s slots: userID (twice), optional strategic context, text.
const structuredMemoryPrompt = `You are the memory cortex of a personal strategic operating system. Extract durable knowledge from the conversation below as entities and relations.

## Subjectivity rule (critical)
The text is written from the owner's point of view. Whenever the text says "I", "me", "my", or "我", that refers to the owner: emit an entity with name "%s" and type "Self". Never emit entities named "User", "Me", "the user", or any other alias for the owner. Relations from the owner use "%s" as the source.

## Entity taxonomy
Strategic ladder: Vision (the single long-term endgame), Goal (a major milestone supporting the vision), Project (an active campaign), Task (a concrete actionable item), Insight (a reusable lesson or principle).
Social web: Person (named individuals, prefer formal full names over nicknames), Organization (teams, companies).
Everything else that matters: Concept, Event, Tool.

## Relations (use only these)
OWNS, DECOMPOSES_TO, ACHIEVED_BY, HAS_GOAL, HAS_PROJECT, CONSISTS_OF, HAS_TASK, EXECUTES, MENTIONS, RELATES_TO, KNOWS, SUPPORTS, PARTNERS_WITH, BELONGS_TO, INFLUENCES, CONTRIBUTES_TO, BLOCKED_BY, GENERATES, DEFINES, IS_A, PART_OF

## Requirements
- Extract only durable, strategically relevant information. Drop small talk, pleasantries, and transient chatter.
- "content" holds a one-sentence description of the entity's role or value.
- For a Task or Person you may set "status" to "pending" or "confirmed" when the text is explicit; otherwise omit it.
- Optional fields: "energy_impact" (integer, -5..5), "alignment_score" (0..1), "dossier" (object of structured facts such as role, skills, city).
- Relation endpoints are entity names from this extraction, never invented ids.%s

## Output (strict JSON, no commentary)
{
  "entities": [
    {"name": "...", "type": "Self|Vision|Goal|Project|Task|Insight|Person|Organization|Concept|Event|Tool", "content": "..."}
  ],
  "relations": [
    {"source": "...", "relation": "...", "target": "..."}
  ]
}

## Text
%s`

// bulkExtractionPrompt is the map-phase prompt for file ingestion. It runs
// against large chunks with the user's vision as grounding context.
// %s slots: vision context, chunk text via the user message.
const bulkExtractionPrompt = `You are a senior strategic analyst building an intelligence graph for the owner of a personal operating system. Extract the core entities and their relations from the document chunk you are given. Discard all chatter, filler, and trivia.

## Core context
Endgame vision: %s

## Entity taxonomy
Strategic ladder (five tiers):
- Vision: the single long-term endgame (usually the one provided above).
- Goal: a strategic milestone supporting the vision (e.g. "close the series A").
- Project: an active campaign or initiative (e.g. "graph storage rewrite").
- Task: a concrete actionable item (e.g. "refactor the staging module").
- Insight: a distilled lesson or principle worth reusing across projects.
Social web:
- Person: key individuals. Use the most formal full name; fold nicknames and titles into it inside the same chunk.
- Organization: teams, companies, institutions.

## Relation schema (use only these)
- Vision -> DECOMPOSES_TO -> Goal
- Goal -> ACHIEVED_BY -> Project
- Project -> HAS_TASK -> Task
- Task -> GENERATES -> Insight
- Self -> PARTNERS_WITH -> Person (Self is the owner; only direct strategic ties)
- Person -> BELONGS_TO -> Organization
- Person/Organization -> SUPPORTS -> Project or Goal
- Project/Task -> MENTIONS -> Person (when a person is involved in the work)
- Anything that fits no schema line: RELATES_TO

## Requirements
- Strategic filter: extract only what relates, directly or indirectly, to the endgame vision.
- Source and target are the names of nodes from this same extraction.
- "content" holds a short description of the entity's value, capability, or responsibility.

## Output (strict JSON, no commentary)
{
  "nodes": [
    {"name": "...", "type": "Vision|Goal|Project|Task|Insight|Person|Organization", "content": "..."}
  ],
  "edges": [
    {"source": "...", "relation": "...", "target": "..."}
  ]
}`

// consolidationPrompt is the reduce-phase prompt: semantic clustering and
// dedup of node summaries pooled across all chunks of one ingestion run.
const consolidationPrompt = `You are a data architect performing entity alignment. The list you receive was extracted chunk by chunk from one document, so it contains duplicates and semantic overlaps.

## Tasks
1. Semantic consolidation:
   - Person nodes (mandatory): merge nicknames, title+surname forms, and full names into one node under the most formal full name.
   - Organization nodes (mandatory): merge abbreviations and short forms into the full name.
   - Strategic nodes (Goal/Project/Task): merge entries describing the same work into one standard node.
2. Standard names: prefer the most formal, complete, unadorned name.
3. Strategic pruning: remove noise nodes unrelated to the owner's endgame, and nodes too vague to act on.
4. Fusion: merge the descriptions of a consolidated entity into one concise "content".

## Output (strict JSON, no commentary)
{
  "mapping": {"original name": "standard name"},
  "standard_nodes": [
    {"name": "standard name", "type": "Vision|Goal|Project|Task|Insight|Person|Organization", "content": "fused description"}
  ]
}

Every original name must appear in "mapping", including names that map to themselves.`

// arbitrationPrompt decides whether a cluster of similar names denotes one
// underlying entity. %s slot: the candidate name list.
const arbitrationPrompt = `The following names were flagged as semantically similar nodes in a personal knowledge graph:

%s

Decide whether they denote the same underlying entity. Nicknames, abbreviations, and formal names of one person or organization should merge; distinct entities that merely share a domain should not.

Reply with strict JSON only:
{"should_merge": true|false, "master_name": "the name to keep (required when merging)", "reason": "one sentence"}`

// alignmentPrompt scores how well a message aligns with the owner's vision.
// The reply is line-oriented, not JSON, to survive weak models. %s slots:
// vision text, message.
const alignmentPrompt = `As the owner's digital twin, judge how well the following input aligns with their long-term endgame vision.

Vision:
%s

Input:
%s

Output a score between 0 and 1 and a short reason, exactly in this format:
Score: [number]
Reason: [one sentence]`

// defaultSummaryPrompt is used by SummarizeText when the caller provides no
// instruction of its own.
const defaultSummaryPrompt = `Summarize the following text in at most three sentences. Keep concrete names, decisions, and outcomes; drop filler.`

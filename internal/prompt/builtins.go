package prompt

// Built-in phase templates. Every placeholder below is bound by Build; a
// custom override under .wreckit/prompts/ may use the same names.
var builtins = map[string]string{
	NameResearch: `You are researching work item {{item_id}}: {{item_title}}

## Overview

{{item_overview}}

## Repository

Root: {{repo_root}}
Base branch: {{base_branch}}

## Prior feedback

{{feedback}}

## Allowed tools

{{allowed_tools}}

## Instructions

1. Explore the repository and any referenced material relevant to this item.
2. Identify the affected packages, existing patterns to follow, and risks.
3. Do NOT modify any files. This phase is read-only investigation.
4. Write your findings as a markdown research report to stdout. The report
   becomes the research.md artifact and the sole input to planning, so make
   it self-contained.

{{tool_hints}}
`,

	NamePlan: `You are planning work item {{item_id}}: {{item_title}}

## Overview

{{item_overview}}

## Research findings

{{research}}

## Prior feedback

{{feedback}}

## Allowed tools

{{allowed_tools}}

## Instructions

1. Decompose the item into small, independently verifiable stories.
2. Every story needs a title and concrete acceptance criteria.
3. Call the save_prd tool exactly once with the full PRD: problem statement,
   goals, non-goals, and the story list.
4. Do NOT modify any files. Planning produces only the PRD.
5. After save_prd succeeds, write a short markdown summary of the plan to
   stdout.

{{tool_hints}}
`,

	NameImplement: `You are implementing work item {{item_id}}: {{item_title}}

## Branch

You are on branch {{branch}} (from {{base_branch}}). Commit your work here.

## PRD

{{prd}}

## Stories

{{stories}}

## Plan notes

{{plan}}

## Allowed tools

{{allowed_tools}}

## Instructions

1. Work through the pending stories one at a time.
2. When you start a story, call update_story_status with status in_progress.
3. When a story's acceptance criteria all pass, call update_story_status
   with status done. Use blocked only when a story cannot proceed, and say
   why in the notes.
4. Commit logically grouped changes as you go.
5. Stop when every story is done or you cannot make further progress.

{{tool_hints}}
`,

	NameImplementRetry: `You are continuing work item {{item_id}}: {{item_title}} (iteration {{iteration}})

## Branch

You are on branch {{branch}}. Earlier iterations already committed work here.

## Remaining stories

{{stories}}

## Current story

{{current_story}}

## Prior feedback

{{feedback}}

## Allowed tools

{{allowed_tools}}

## Instructions

1. Do not redo finished work. Pick up from the story list above.
2. Update story statuses through update_story_status as before.
3. Commit as you go and stop when every story is done.

{{tool_hints}}
`,

	NamePR: `You are preparing the pull request for work item {{item_id}}: {{item_title}}

## Branch

{{branch}} targeting {{base_branch}}.

## PRD

{{prd}}

## Stories

{{stories}}

## Instructions

1. Review the committed changes on the branch.
2. Write a pull request description to stdout as markdown: a short summary
   of what changed and why, followed by a test plan. It becomes the pr.md
   artifact and the PR body verbatim.
3. Do NOT modify any files and do NOT run git push.

{{tool_hints}}
`,

	NameComplete: `You are finalizing work item {{item_id}}: {{item_title}}

## State

PR: {{pr_url}}
State: {{item_state}}

## Instructions

1. Verify the merged changes landed on {{base_branch}}: the stories below
   should all be reflected in the code.

{{stories}}

2. Call the complete tool when everything checks out. If something is
   wrong, write what is missing to stdout and do not call complete.

{{tool_hints}}
`,

	NameCritique: `You are reviewing the {{item_state}} output of work item {{item_id}}: {{item_title}}

## Artifact under review

{{artifact}}

## PRD

{{prd}}

## Stories

{{stories}}

## Instructions

1. Judge whether the artifact above fully serves this item. Look for gaps,
   contradictions, and unverifiable claims.
2. Reply with a single JSON object and nothing else:
   {"verdict": "approve"} or
   {"verdict": "reject", "feedback": "<what must change>"}
`,

	NameIdeas: `You are parsing a free-form ideas document into work items.

## Document

{{document}}

## Existing sections

{{sections}}

## Instructions

1. Split the document into distinct, self-contained work items.
2. Give each a section (prefer an existing one), a short title, and a one
   paragraph overview.
3. Call save_parsed_ideas exactly once with the full list.

{{tool_hints}}
`,
}

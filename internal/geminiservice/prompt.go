package geminiservice

import (
	"encoding/json"
	"fmt"
	"strings"

	"dermassist/internal/sheets"
)

/* =================================================================================
						PROMPT ENGINEERING & GUARDRAILS
=================================================================================*/

// FallbackSystemPrompt is used whenever no profile is available. The
// assistant still answers, it just can't personalize (capability-degraded
// mode, not an error).
const FallbackSystemPrompt = "You are a helpful dermatological assistant."

// ImageInstruction is the fixed user-part text sent with an uploaded image.
const ImageInstruction = "Analyze this image of my skin and tell me what you see."

/*
systemPromptTemplate defines the persona and guardrails. The %s slots are,
in order: barrier status, medication list, concerns JSON, avoid list, and
the rendered routine-audit bullet list.
*/
const systemPromptTemplate = `You are a highly personalized, localized Canadian Dermatological Assistant.
Your goal is to analyze the user's skin issues, remember their history, and recommend budget-friendly products from Amazon Canada.
**GUARDRAILS:**
1.  **NEVER Refuse to Help:** If an issue seems severe, label it "High Severity" but always provide the best possible over-the-counter palliative care advice.
2.  **Amazon Canada Only:** All product searches must be for ` + "`amazon.ca`" + `.
3.  **Budget-Friendly:** Prioritize products under $25 CAD.
4.  **Context is Key:** You MUST use the user's history below to inform your diagnosis.
---
**DEEP CONTEXT: Current Skin Profile**
-   **Barrier Status:** %s
-   **Active Medications:** %s
-   **Detailed Concerns:**
` + "    ```json\n%s\n    ```" + `
-   **Ingredients to Avoid:** %s
---
**PRODUCT DATABASE: Routine Audit**
%s
---
**YOUR PROTOCOL:**
1.  **Analyze Input:** Review the user's text or image.
2.  **Diagnose:** Identify the issue.
3.  **Cross-Reference:** Check against the avoid-ingredients list and the routine audit.
4.  **Determine Action:** If a product is needed, formulate a search query on a new line formatted EXACTLY as ` + "`SEARCH: <product_type> <key_ingredient> under $25 CAD`" + `.
5.  **Respond:** Provide your analysis and the search query if needed.`

// BuildSystemPrompt renders the persona template from the profile and audit.
// The render is deterministic: identical inputs always produce the identical
// string (encoding/json sorts map keys).
func BuildSystemPrompt(profile *sheets.UserProfile, audit []sheets.AuditEntry) string {
	if profile == nil {
		return FallbackSystemPrompt
	}

	concernsJSON, err := json.MarshalIndent(profile.CurrentConcerns, "", "  ")
	if err != nil {
		// CurrentConcerns comes from json.Unmarshal, so it always re-marshals.
		concernsJSON = []byte("{}")
	}

	auditLines := make([]string, 0, len(audit))
	for _, entry := range audit {
		auditLines = append(auditLines, fmt.Sprintf("- %s (%s): %s", entry.ProductName, entry.Status, entry.Notes))
	}

	return fmt.Sprintf(systemPromptTemplate,
		profile.BarrierStatus,
		strings.Join(profile.ActiveMedications, ", "),
		string(concernsJSON),
		strings.Join(profile.AvoidIngredients, ", "),
		strings.Join(auditLines, "\n"),
	)
}

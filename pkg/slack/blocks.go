// Package slack formats enriched job runs as incoming-webhook block
// messages and posts them.
package slack

import (
	"fmt"
	"strings"

	"github.com/3leaps/runwatch/pkg/jobrun"
)

// MaxBlocksPerPayload is the block limit the webhook accepts per message.
const MaxBlocksPerPayload = 50

// Block types and text formats.
const (
	BlockHeader  = "header"
	BlockSection = "section"
	BlockDivider = "divider"

	TextPlain    = "plain_text"
	TextMarkdown = "mrkdwn"
)

// Text is a block text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Block is a single layout block.
type Block struct {
	Type   string `json:"type"`
	Text   *Text  `json:"text,omitempty"`
	Fields []Text `json:"fields,omitempty"`
}

// Payload is the webhook request body.
type Payload struct {
	Blocks []Block `json:"blocks"`
}

// Divider returns a divider block.
func Divider() Block {
	return Block{Type: BlockDivider}
}

func markdown(s string) Text {
	return Text{Type: TextMarkdown, Text: s}
}

func section(fields ...Text) Block {
	return Block{Type: BlockSection, Fields: fields}
}

// HeaderBlocks returns the blocks that open a workspace alert.
func HeaderBlocks(workspace string, thresholdHours float64) []Block {
	return []Block{
		{
			Type: BlockHeader,
			Text: &Text{Type: TextPlain, Text: fmt.Sprintf("Job runs longer than %.2f hours", thresholdHours)},
		},
		{
			Type: BlockSection,
			Text: &Text{Type: TextMarkdown, Text: "*Workspace:* " + workspace},
		},
		Divider(),
	}
}

// RunBlocks returns the blocks describing one run: basic info, cluster
// info, duration, tags and a closing divider.
func RunBlocks(rec jobrun.Record, unspecified string) []Block {
	return []Block{
		basicInfoBlock(rec),
		clusterInfoBlock(rec, unspecified),
		durationBlock(rec),
		tagsBlock(rec),
		Divider(),
	}
}

func basicInfoBlock(rec jobrun.Record) Block {
	return section(
		markdown(fmt.Sprintf("*Run name:*\n<%s|%s>", rec.String(jobrun.FieldRunPageURL), rec.String(jobrun.FieldRunName))),
		markdown("*Created by:*\n"+rec.String(jobrun.FieldCreatorUserName)),
	)
}

func clusterInfoBlock(rec jobrun.Record, unspecified string) Block {
	clusterURL := rec.String(jobrun.FieldClusterURL)
	name := rec.String(jobrun.FieldClusterName)
	id := rec.String(jobrun.FieldClusterID)

	nameText := fmt.Sprintf("<%s|%s>", clusterURL, name)
	idText := fmt.Sprintf("<%s|%s>", clusterURL, id)
	if clusterURL == unspecified {
		nameText = name
		idText = id
	}
	infoText := fmt.Sprintf("*Cluster info:*\nID: %s\nDriver: %s\nWorker: %s",
		idText, rec.String(jobrun.FieldDriverNodeTypeID), rec.String(jobrun.FieldNodeTypeID))

	if name == unspecified {
		nameText = "Serverless"
		infoText = "*Cluster info:*\nN/A"
	}

	return section(
		markdown("*Cluster name:*\n"+nameText),
		markdown(infoText),
	)
}

func durationBlock(rec jobrun.Record) Block {
	hours, _ := rec.Float(jobrun.FieldTimeFromStartHours)
	return section(markdown(fmt.Sprintf("*Duration:*\n%.2f hours", hours)))
}

func tagsBlock(rec jobrun.Record) Block {
	return section(markdown("*Tags:*\n" + TagsToText(rec.Tags())))
}

// TagsToText renders tags as a bulleted list, one "• *key*" or
// "• *key:* value" line per tag in key order. No tags renders as "None".
func TagsToText(tags jobrun.Tags) string {
	if len(tags) == 0 {
		return "None"
	}
	var b strings.Builder
	for _, k := range tags.Keys() {
		if v := tags[k]; v == "" {
			fmt.Fprintf(&b, "• *%s*\n", k)
		} else {
			fmt.Fprintf(&b, "• *%s:* %s\n", k, v)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

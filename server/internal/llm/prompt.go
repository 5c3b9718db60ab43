// Copyright (c) CurioSwitch (choko@curioswitch.org)
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"fmt"

	"github.com/curioswitch/clinicchat/server/internal/i18n"
)

func SummarizerPrompt(ctx context.Context) string {
	language := "日本語"
	if i18n.UserLanguage(ctx) == "en" {
		language = "英語"
	}
	return fmt.Sprintf(summarizerPrompt, language)
}

const summarizerPrompt = `あなたは歯科医院のスタッフ間チャットを要約するアシスタントです。
入力は「名前: 内容」の形式の会話ログで、1行が1メッセージです。画像のみのメッセージは [画像]、重要とマークされたメッセージは末尾に [重要] と表示されます。

以下の3点を%sで返してください。
* summary: 会話全体の簡潔な概要を2〜3文で。
* keyPoints: 会話の要点を時系列順に箇条書きで。[重要] のメッセージは必ず含めてください。
* actionItems: 会話から発生した、誰かが対応すべきタスクを箇条書きで。担当者が分かる場合は名前を含めてください。なければ空の配列にしてください。

患者の個人情報は必要以上に繰り返さないでください。会話にない内容を推測で付け加えないでください。
`

package content

// Field keys a form can override. Unknown keys are rejected on update.
const (
	KeyPageTitle        = "page_title"
	KeyPageSubtitle     = "page_subtitle"
	KeySubmitButton     = "submit_button"
	KeyURLPlaceholder   = "url_placeholder"
	KeyDisclaimer       = "disclaimer"
	KeySystemPrompt     = "ai_system_prompt"
	KeyResultFormat     = "ai_result_format"
	KeyLoadingMessage1  = "loading_message_1"
	KeyLoadingMessage2  = "loading_message_2"
	KeyLoadingMessage3  = "loading_message_3"
	KeyEmailTitle       = "email_title"
	KeyEmailSubtitle    = "email_subtitle"
	KeyEmailButton      = "email_button"
	KeyEmailPlaceholder = "email_placeholder"
	KeyResultTitle      = "result_title"
	KeyResultBlurText   = "result_blur_text"
	KeySuccessTitle     = "success_title"
	KeySuccessMessage   = "success_message"
	KeyShareButton      = "share_button"
	KeyDownloadButton   = "download_button"
)

// System setting keys holding the global prompt per result format.
const (
	SettingGlobalTextPrompt  = "global_text_prompt"
	SettingGlobalImagePrompt = "global_image_prompt"
)

// DefaultTextPrompt is used when neither a global nor a form prompt is set.
const DefaultTextPrompt = `You are an expert consultant. Analyze the provided content and give personalized, actionable recommendations.

IMPORTANT FORMATTING RULES:
- Write in plain text only, NO markdown formatting
- Do NOT use asterisks, hashtags, or any special characters for emphasis
- Use simple paragraphs separated by blank lines
- Keep your response clean, readable, and professional`

// DefaultImagePrompt is the image counterpart of DefaultTextPrompt.
const DefaultImagePrompt = "A clean, modern illustration that visualizes the key idea of a business website. Flat design, soft colors, no text."

// defaultSeedPrompt is the fragment stored on freshly created forms.
const defaultSeedPrompt = "You are an expert business consultant. Analyze the provided website and generate clear, actionable recommendations in Russian."

var defaults = map[string]string{
	KeyPageTitle:        "Анализ сайта с помощью ИИ",
	KeyPageSubtitle:     "Получите детальный анализ вашего сайта за 30 секунд",
	KeySubmitButton:     "Получить анализ",
	KeyURLPlaceholder:   "https://example.com",
	KeyDisclaimer:       "Бесплатно • Занимает 30 секунд",
	KeySystemPrompt:     "",
	KeyResultFormat:     "text",
	KeyLoadingMessage1:  "Анализируем сайт...",
	KeyLoadingMessage2:  "Генерируем рекомендации...",
	KeyLoadingMessage3:  "Почти готово...",
	KeyEmailTitle:       "Получите результаты",
	KeyEmailSubtitle:    "Введите email чтобы получить полный анализ",
	KeyEmailButton:      "Получить результат",
	KeyEmailPlaceholder: "your@email.com",
	KeyResultTitle:      "Ваш результат",
	KeyResultBlurText:   "Введите email чтобы увидеть полный результат",
	KeySuccessTitle:     "Готово!",
	KeySuccessMessage:   "Ваш результат готов",
	KeyShareButton:      "Поделиться",
	KeyDownloadButton:   "Скачать",
}

// Default returns the hardcoded value for key.
func Default(key string) (string, bool) {
	v, ok := defaults[key]
	return v, ok
}

// IsKnownKey reports whether key is a configurable form field.
func IsKnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Defaults returns a copy of every default field value.
func Defaults() map[string]string {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

// SeedValues is the content written to a newly created form.
func SeedValues() map[string]string {
	out := Defaults()
	out[KeySystemPrompt] = defaultSeedPrompt
	return out
}

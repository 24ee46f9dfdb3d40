package nostd

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhTranslations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/labstack/echo/v4"
)

// CustomValidator echo 请求参数校验器，校验失败返回翻译后的错误信息
type CustomValidator struct {
	Validator *validator.Validate
	trans     ut.Translator
}

// TransInit 初始化中文翻译器
func (v *CustomValidator) TransInit() error {
	zhLocale := zh.New()
	uni := ut.New(zhLocale, zhLocale)
	trans, ok := uni.GetTranslator("zh")
	if !ok {
		return errors.New("nostd: zh translator not found")
	}
	v.trans = trans
	return zhTranslations.RegisterDefaultTranslations(v.Validator, trans)
}

func (v *CustomValidator) Validate(i interface{}) error {
	if err := v.Validator.Struct(i); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && v.trans != nil {
			messages := make([]string, 0, len(validationErrors))
			for _, fieldError := range validationErrors {
				messages = append(messages, fieldError.Translate(v.trans))
			}
			return echo.NewHTTPError(http.StatusBadRequest, strings.Join(messages, "; "))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

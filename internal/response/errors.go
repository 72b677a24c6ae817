package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrStaffAccessOnly   ErrCode = "STAFF_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Throttling ────────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionNotActivatable ErrCode = "SESSION_NOT_ACTIVATABLE"
	ErrSessionNotOpen        ErrCode = "SESSION_NOT_OPEN"
	ErrInsufficientQuestions ErrCode = "INSUFFICIENT_QUESTIONS"
	ErrInvalidTemplate       ErrCode = "INVALID_TEMPLATE"

	// ─── Attempt ───────────────────────────────────────────────────────
	ErrSubmissionFinalized  ErrCode = "SUBMISSION_FINALIZED"
	ErrSubmissionNotStarted ErrCode = "SUBMISSION_NOT_STARTED"
	ErrNotSubmissionOwner   ErrCode = "NOT_SUBMISSION_OWNER"
	ErrMinSubmitTime        ErrCode = "MIN_SUBMIT_TIME_NOT_REACHED"
	ErrQuestionNotAssigned  ErrCode = "QUESTION_NOT_ASSIGNED"
	ErrInvalidViolationType ErrCode = "INVALID_VIOLATION_TYPE"
	ErrInvalidBonusTime     ErrCode = "INVALID_BONUS_TIME"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrInvalidScore          ErrCode = "INVALID_SCORE"
	ErrAnswerNotInSubmission ErrCode = "ANSWER_NOT_IN_SUBMISSION"
	ErrGradingInconsistent   ErrCode = "GRADING_INCONSISTENT"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrStaffAccessOnly:
		return "Sumber daya ini terbatas untuk staf."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Throttling ────────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionNotActivatable:
		return "Sesi ujian ini tidak dapat diaktifkan."
	case ErrSessionNotOpen:
		return "Sesi ujian ini sedang tidak berlangsung."
	case ErrInsufficientQuestions:
		return "Bank soal tidak memiliki cukup soal untuk komposisi ujian."
	case ErrInvalidTemplate:
		return "Konfigurasi templat ujian tidak valid."

	// ─── Attempt ───────────────────────────────────────────────────────
	case ErrSubmissionFinalized:
		return "Ujian Anda sudah selesai dan tidak dapat diubah lagi."
	case ErrSubmissionNotStarted:
		return "Ujian ini belum dimulai."
	case ErrNotSubmissionOwner:
		return "Lembar jawaban ini bukan milik Anda."
	case ErrMinSubmitTime:
		return "Ujian belum dapat dikumpulkan. Waktu minimum belum tercapai."
	case ErrQuestionNotAssigned:
		return "Soal ini tidak termasuk dalam ujian Anda."
	case ErrInvalidViolationType:
		return "Jenis pelanggaran tidak dikenal."
	case ErrInvalidBonusTime:
		return "Tambahan waktu tidak valid."

	// ─── Grading ───────────────────────────────────────────────────────
	case ErrInvalidScore:
		return "Nilai berada di luar rentang poin soal."
	case ErrAnswerNotInSubmission:
		return "Jawaban tidak termasuk dalam lembar jawaban ini."
	case ErrGradingInconsistent:
		return "Soal yang ditugaskan tidak dapat ditemukan. Penilaian dibatalkan."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
